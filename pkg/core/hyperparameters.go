package core

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Optimizer names accepted in TrainerConfig
const (
	OptimizerAdam = "adam"
	OptimizerSGD  = "sgd"
)

// TrainerConfig holds the training hyperparameters
type TrainerConfig struct {
	// Regularization and clipping (0 disables)
	L1Weight float64 `json:"l1_weight"`
	L2Weight float64 `json:"l2_weight"`
	ClipNorm float64 `json:"clip_norm"`

	// Optimizer
	OptimizerName string  `json:"optimizer_name"` // "adam" or "sgd"
	LearningRate  float64 `json:"learning_rate"`
	Momentum      float64 `json:"momentum"` // sgd only
	WeightDecay   float64 `json:"weight_decay"`

	// Execution
	Sessions  int   `json:"sessions"` // 0 means one per physical core
	Steps     int   `json:"steps"`
	Summaries bool  `json:"summaries"`
	Seed      int64 `json:"seed"`
}

// NewDefaultTrainerConfig creates the default training hyperparameters
func NewDefaultTrainerConfig() *TrainerConfig {
	return &TrainerConfig{
		OptimizerName: OptimizerAdam,
		LearningRate:  1e-4,
		Sessions:      0,
		Steps:         100,
		Summaries:     true,
		Seed:          42,
	}
}

// SaveTrainerConfig saves hyperparameters to a JSON file
func SaveTrainerConfig(cfg *TrainerConfig, filePath string) error {
	if dir := filepath.Dir(filePath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(err, "create dir")
		}
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal")
	}
	return errors.Wrap(os.WriteFile(filePath, data, 0644), "write file")
}

// LoadTrainerConfig loads hyperparameters from a JSON file. Fields missing
// from the file keep their default values.
func LoadTrainerConfig(filePath string) (*TrainerConfig, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}
	cfg := NewDefaultTrainerConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "unmarshal %s", filePath)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", filePath)
	}
	return cfg, nil
}
