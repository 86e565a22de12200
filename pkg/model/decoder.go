package model

import (
	"math/rand"

	"github.com/cifkao/neuralmonkey/pkg/autodiff"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Supported decoder losses
const (
	LossCrossEntropy = "xent"
	LossMSE          = "mse"
)

// DecoderConfig describes a decoding head
type DecoderConfig struct {
	Name      string
	OutputDim int
	Loss      string // LossCrossEntropy (default) or LossMSE
	// Activation is applied to the projection before the MSE loss. It is
	// ignored by the cross-entropy loss, which works on logits.
	Activation string
}

// Decoder projects the outputs of its encoders to OutputDim and computes a
// cost against the targets placeholder
type Decoder struct {
	name     string
	loss     string
	encoders []*Encoder
	weights  []*autodiff.Variable
	bias     *autodiff.Variable
	targets  *autodiff.Node
	logits   *autodiff.Node
	output   *autodiff.Node
	cost     *autodiff.Node
}

// NewDecoder builds a decoder over one or more encoders that share a batch size
func NewDecoder(g *autodiff.Graph, cfg DecoderConfig, encoders []*Encoder, rng *rand.Rand) (*Decoder, error) {
	if cfg.Name == "" {
		return nil, errors.New("decoder name cannot be empty")
	}
	if len(encoders) == 0 {
		return nil, errors.Errorf("decoder %s: needs at least one encoder", cfg.Name)
	}
	if cfg.OutputDim <= 0 {
		return nil, errors.Errorf("decoder %s: output dimension must be positive, got %d", cfg.Name, cfg.OutputDim)
	}
	if cfg.Loss == "" {
		cfg.Loss = LossCrossEntropy
	}
	if cfg.Loss != LossCrossEntropy && cfg.Loss != LossMSE {
		return nil, errors.Errorf("decoder %s: unknown loss %q", cfg.Name, cfg.Loss)
	}
	act, err := autodiff.Activation(cfg.Activation)
	if err != nil {
		return nil, errors.Wrapf(err, "decoder %s", cfg.Name)
	}

	batch, _ := encoders[0].Output().Shape()
	d := &Decoder{name: cfg.Name, loss: cfg.Loss, encoders: encoders}

	projections := make([]*autodiff.Node, 0, len(encoders))
	for _, enc := range encoders {
		rows, dim := enc.Output().Shape()
		if rows != batch {
			return nil, errors.Wrapf(autodiff.ErrShapeMismatch, "decoder %s: encoder %s has batch %d, expected %d", cfg.Name, enc.ID(), rows, batch)
		}
		init, err := autodiff.NewRandomMatrix(rng, dim, cfg.OutputDim, glorotLimit(dim, cfg.OutputDim))
		if err != nil {
			return nil, err
		}
		w, err := g.NewVariable(init, autodiff.DefaultVariableConfig(cfg.Name+"/"+string(enc.ID())+"/weights"))
		if err != nil {
			return nil, err
		}
		d.weights = append(d.weights, w)
		p, err := autodiff.MatMul(enc.Output(), w.Node())
		if err != nil {
			return nil, errors.Wrapf(err, "decoder %s projection of %s", cfg.Name, enc.ID())
		}
		projections = append(projections, p)
	}

	if d.bias, err = g.NewVariable(mat.NewDense(1, cfg.OutputDim, nil), autodiff.DefaultVariableConfig(cfg.Name+"/bias")); err != nil {
		return nil, err
	}
	sum, err := autodiff.AddN(projections...)
	if err != nil {
		return nil, errors.Wrapf(err, "decoder %s", cfg.Name)
	}
	if d.logits, err = autodiff.AddBias(sum, d.bias.Node()); err != nil {
		return nil, errors.Wrapf(err, "decoder %s bias", cfg.Name)
	}
	if d.targets, err = g.Placeholder(cfg.Name+"/targets", batch, cfg.OutputDim); err != nil {
		return nil, errors.Wrapf(err, "decoder %s", cfg.Name)
	}

	switch cfg.Loss {
	case LossCrossEntropy:
		d.output = d.logits
		d.cost, err = autodiff.SoftmaxCrossEntropy(d.logits, d.targets)
	case LossMSE:
		d.output = d.logits
		if act != nil {
			if d.output, err = act(d.logits); err != nil {
				return nil, errors.Wrapf(err, "decoder %s activation", cfg.Name)
			}
		}
		d.cost, err = autodiff.MSELoss(d.output, d.targets)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decoder %s cost", cfg.Name)
	}
	return d, nil
}

// ID implements Component
func (d *Decoder) ID() ComponentID { return ComponentID(d.name) }

// Dependencies implements Component
func (d *Decoder) Dependencies() []Component {
	deps := make([]Component, len(d.encoders))
	for i, e := range d.encoders {
		deps[i] = e
	}
	return deps
}

// Name returns the decoder name
func (d *Decoder) Name() string { return d.name }

// LossName returns the loss the cost was built with
func (d *Decoder) LossName() string { return d.loss }

// Cost returns the scalar training cost
func (d *Decoder) Cost() *autodiff.Node { return d.cost }

// Logits returns the projection before any activation
func (d *Decoder) Logits() *autodiff.Node { return d.logits }

// Output returns the decoder prediction
func (d *Decoder) Output() *autodiff.Node { return d.output }

// Targets returns the targets placeholder
func (d *Decoder) Targets() *autodiff.Node { return d.targets }

// Variables returns the projection weights followed by the bias
func (d *Decoder) Variables() []*autodiff.Variable {
	out := append([]*autodiff.Variable(nil), d.weights...)
	return append(out, d.bias)
}

// FeedTargets maps the targets placeholder to y
func (d *Decoder) FeedTargets(y *mat.Dense) autodiff.FeedDict {
	return autodiff.FeedDict{d.targets: y}
}

// FeedLabels one-hot encodes class labels into the targets placeholder
func (d *Decoder) FeedLabels(labels []int) (autodiff.FeedDict, error) {
	_, classes := d.targets.Shape()
	y, err := autodiff.NewOneHot(labels, classes)
	if err != nil {
		return nil, errors.Wrapf(err, "decoder %s labels", d.name)
	}
	return d.FeedTargets(y), nil
}
