package model

import (
	"math"
	"math/rand"

	"github.com/cifkao/neuralmonkey/pkg/autodiff"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// EncoderConfig describes a dense encoder layer
type EncoderConfig struct {
	Name       string
	BatchSize  int
	InputDim   int // ignored when the encoder has a parent
	OutputDim  int
	Activation string
}

// Encoder is a dense layer reading either its own input placeholder or the
// output of a parent encoder
type Encoder struct {
	name    string
	parent  *Encoder
	input   *autodiff.Node
	weights *autodiff.Variable
	bias    *autodiff.Variable
	output  *autodiff.Node
}

// glorotLimit is the bound of the Xavier/Glorot uniform initializer
func glorotLimit(fanIn, fanOut int) float64 {
	return math.Sqrt(6.0 / float64(fanIn+fanOut))
}

// NewEncoder creates the encoder's variables and output node in g.
// parent may be nil, in which case the encoder gets an input placeholder.
func NewEncoder(g *autodiff.Graph, cfg EncoderConfig, parent *Encoder, rng *rand.Rand) (*Encoder, error) {
	if cfg.Name == "" {
		return nil, errors.New("encoder name cannot be empty")
	}
	if cfg.OutputDim <= 0 {
		return nil, errors.Errorf("encoder %s: output dimension must be positive, got %d", cfg.Name, cfg.OutputDim)
	}
	act, err := autodiff.Activation(cfg.Activation)
	if err != nil {
		return nil, errors.Wrapf(err, "encoder %s", cfg.Name)
	}

	e := &Encoder{name: cfg.Name, parent: parent}
	if parent != nil {
		e.input = parent.output
	} else {
		if cfg.BatchSize <= 0 || cfg.InputDim <= 0 {
			return nil, errors.Errorf("encoder %s: batch size and input dimension must be positive, got %d and %d", cfg.Name, cfg.BatchSize, cfg.InputDim)
		}
		e.input, err = g.Placeholder(cfg.Name+"/input", cfg.BatchSize, cfg.InputDim)
		if err != nil {
			return nil, errors.Wrapf(err, "encoder %s", cfg.Name)
		}
	}
	_, inputDim := e.input.Shape()

	w, err := autodiff.NewRandomMatrix(rng, inputDim, cfg.OutputDim, glorotLimit(inputDim, cfg.OutputDim))
	if err != nil {
		return nil, errors.Wrapf(err, "encoder %s weights", cfg.Name)
	}
	if e.weights, err = g.NewVariable(w, autodiff.DefaultVariableConfig(cfg.Name+"/weights")); err != nil {
		return nil, err
	}
	if e.bias, err = g.NewVariable(mat.NewDense(1, cfg.OutputDim, nil), autodiff.DefaultVariableConfig(cfg.Name+"/bias")); err != nil {
		return nil, err
	}

	hidden, err := autodiff.MatMul(e.input, e.weights.Node())
	if err != nil {
		return nil, errors.Wrapf(err, "encoder %s matmul", cfg.Name)
	}
	hidden, err = autodiff.AddBias(hidden, e.bias.Node())
	if err != nil {
		return nil, errors.Wrapf(err, "encoder %s bias", cfg.Name)
	}
	if act != nil {
		if hidden, err = act(hidden); err != nil {
			return nil, errors.Wrapf(err, "encoder %s activation", cfg.Name)
		}
	}
	e.output = hidden
	return e, nil
}

// ID implements Component
func (e *Encoder) ID() ComponentID { return ComponentID(e.name) }

// Dependencies implements Component
func (e *Encoder) Dependencies() []Component {
	if e.parent == nil {
		return nil
	}
	return []Component{e.parent}
}

// Input returns the input placeholder, or the parent's output
func (e *Encoder) Input() *autodiff.Node { return e.input }

// Output returns the encoded batch
func (e *Encoder) Output() *autodiff.Node { return e.output }

// Variables returns the weights and the bias
func (e *Encoder) Variables() []*autodiff.Variable {
	return []*autodiff.Variable{e.weights, e.bias}
}

// Feed maps the encoder's input placeholder to x. Encoders with a parent are
// fed through the root of their chain.
func (e *Encoder) Feed(x *mat.Dense) (autodiff.FeedDict, error) {
	if e.parent != nil {
		return e.parent.Feed(x)
	}
	return autodiff.FeedDict{e.input: x}, nil
}
