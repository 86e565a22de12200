package trainers

import (
	"github.com/cifkao/neuralmonkey/pkg/autodiff"
	"github.com/cifkao/neuralmonkey/pkg/model"
	"github.com/pkg/errors"
)

// NewCrossEntropyTrainer trains decoders on their own costs. Each decoder
// becomes an objective named <decoder>_xent whose loss is the decoder cost
// scaled by its weight. A nil weights slice weights every decoder by 1.
func NewCrossEntropyTrainer(decoders []*model.Decoder, weights []float64, cfg Config) (*GenericTrainer, error) {
	if len(decoders) == 0 {
		return nil, ErrNoObjectives
	}
	if weights == nil {
		weights = make([]float64, len(decoders))
		for i := range weights {
			weights[i] = 1
		}
	}
	if len(weights) != len(decoders) {
		return nil, errors.Errorf("got %d decoder weights for %d decoders", len(weights), len(decoders))
	}

	objectives := make([]Objective, len(decoders))
	for i, d := range decoders {
		loss := d.Cost()
		if weights[i] != 1 {
			var err error
			if loss, err = autodiff.ScalarMultiply(loss, weights[i]); err != nil {
				return nil, errors.Wrapf(err, "weighting decoder %s", d.Name())
			}
		}
		objectives[i] = Objective{Name: d.Name() + "_xent", Decoder: d, Loss: loss}
	}
	return NewGenericTrainer(objectives, cfg)
}
