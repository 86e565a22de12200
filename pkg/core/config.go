package core

import (
	"math"

	"github.com/cifkao/neuralmonkey/pkg/autodiff"
	"github.com/cifkao/neuralmonkey/pkg/summary"
	"github.com/cifkao/neuralmonkey/pkg/trainers"
	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
)

// Validate checks the hyperparameters
func (c *TrainerConfig) Validate() error {
	for name, v := range map[string]float64{
		"l1_weight":     c.L1Weight,
		"l2_weight":     c.L2Weight,
		"clip_norm":     c.ClipNorm,
		"momentum":      c.Momentum,
		"weight_decay":  c.WeightDecay,
		"learning_rate": c.LearningRate,
	} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Errorf("%s must be a non-negative number, got %v", name, v)
		}
	}
	if c.LearningRate == 0 {
		return errors.New("learning_rate must be positive")
	}
	if c.OptimizerName != OptimizerAdam && c.OptimizerName != OptimizerSGD {
		return errors.Errorf("unknown optimizer %q", c.OptimizerName)
	}
	if c.Sessions < 0 {
		return errors.Errorf("sessions must be non-negative, got %d", c.Sessions)
	}
	if c.Steps < 0 {
		return errors.Errorf("steps must be non-negative, got %d", c.Steps)
	}
	return nil
}

// NewOptimizer creates the configured optimizer
func (c *TrainerConfig) NewOptimizer() (autodiff.Optimizer, error) {
	switch c.OptimizerName {
	case OptimizerAdam:
		return autodiff.NewAdamOptimizer(c.LearningRate, c.WeightDecay), nil
	case OptimizerSGD:
		opt := autodiff.NewSGDOptimizer(c.LearningRate, c.Momentum)
		opt.WeightDecay = c.WeightDecay
		return opt, nil
	}
	return nil, errors.Errorf("unknown optimizer %q", c.OptimizerName)
}

// TrainerSettings builds the trainer configuration with a fresh optimizer
func (c *TrainerConfig) TrainerSettings(registry *summary.MetricRegistry) (trainers.Config, error) {
	if err := c.Validate(); err != nil {
		return trainers.Config{}, err
	}
	opt, err := c.NewOptimizer()
	if err != nil {
		return trainers.Config{}, err
	}
	return trainers.Config{
		L1Weight:  c.L1Weight,
		L2Weight:  c.L2Weight,
		ClipNorm:  c.ClipNorm,
		Optimizer: opt,
		Registry:  registry,
	}, nil
}

// SessionCount resolves the number of sessions. Zero means one session per
// physical core, or a single session when the core count is unknown.
func (c *TrainerConfig) SessionCount() int {
	if c.Sessions > 0 {
		return c.Sessions
	}
	return max(cpuid.CPU.PhysicalCores, 1)
}
