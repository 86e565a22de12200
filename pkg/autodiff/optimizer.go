package autodiff

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DefaultLearningRate is the learning rate of DefaultOptimizer
const DefaultLearningRate = 1e-4

// Optimizer computes gradients and builds the node that applies them.
// All gradients of a model should come from the same ComputeGradients so
// they can be summed.
type Optimizer interface {
	// ComputeGradients differentiates loss with respect to every trainable
	// variable of its graph, in creation order
	ComputeGradients(loss *Node) (GradientList, error)

	// ApplyGradients returns a node that updates the variables when run.
	// Entries with a nil gradient are skipped.
	ApplyGradients(grads GradientList) (*Node, error)
}

// updateRule computes the new value of one variable inside an apply node
type updateRule interface {
	name() string
	update(s *Session, op *Node, v *Variable, value, grad *mat.Dense, step int) *mat.Dense
}

type applyOp struct {
	rule   updateRule
	params []*Variable
}

func (o *applyOp) kind() string { return "apply_" + o.rule.name() }

func (o *applyOp) forward(ex *execution, n *Node, in []*mat.Dense) (*mat.Dense, error) {
	s := ex.session
	s.steps[n]++
	step := s.steps[n]
	for i, v := range o.params {
		current, err := s.lookup(v)
		if err != nil {
			return nil, err
		}
		s.values[v] = o.rule.update(s, n, v, current, in[i], step)
	}
	return nil, nil
}

func (o *applyOp) backward(_ *Node, _ *Node) ([]*Node, error) { return nil, nil }

func computeGradients(loss *Node) (GradientList, error) {
	if loss == nil {
		return nil, errors.New("compute gradients: loss cannot be nil")
	}
	return Gradients(loss, loss.graph.TrainableVariables())
}

func applyGradients(rule updateRule, grads GradientList) (*Node, error) {
	entries := grads.NonNil()
	if len(entries) == 0 {
		return nil, errors.New("apply gradients: no gradients provided for any variable")
	}

	seen := make(map[*Variable]bool, len(entries))
	params := make([]*Variable, len(entries))
	inputs := make([]*Node, len(entries))
	for i, e := range entries {
		if e.Param == nil {
			return nil, errors.Errorf("apply gradients: entry %d has no variable", i)
		}
		if seen[e.Param] {
			return nil, errors.Errorf("apply gradients: duplicate variable %s", e.Param.name)
		}
		seen[e.Param] = true
		pr, pc := e.Param.node.Shape()
		if gr, gc := e.Grad.Shape(); gr != pr || gc != pc {
			return nil, errors.Wrapf(ErrShapeMismatch, "apply gradients: variable %s is %dx%d, gradient is %dx%d", e.Param.name, pr, pc, gr, gc)
		}
		params[i] = e.Param
		inputs[i] = e.Grad
	}

	g := entries[0].Param.node.graph
	return g.addNode("", &applyOp{rule: rule, params: params}, inputs, 0, 0)
}

// AdamOptimizer implements the Adam optimization algorithm
type AdamOptimizer struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
}

// NewAdamOptimizer creates a new Adam optimizer
func NewAdamOptimizer(lr float64, weightDecay float64) *AdamOptimizer {
	return &AdamOptimizer{LearningRate: lr, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8, WeightDecay: weightDecay}
}

// DefaultOptimizer returns Adam with DefaultLearningRate
func DefaultOptimizer() *AdamOptimizer {
	return NewAdamOptimizer(DefaultLearningRate, 0)
}

// ComputeGradients implements Optimizer
func (opt *AdamOptimizer) ComputeGradients(loss *Node) (GradientList, error) {
	return computeGradients(loss)
}

// ApplyGradients implements Optimizer
func (opt *AdamOptimizer) ApplyGradients(grads GradientList) (*Node, error) {
	return applyGradients(opt, grads)
}

func (opt *AdamOptimizer) name() string { return "adam" }

func (opt *AdamOptimizer) update(s *Session, op *Node, v *Variable, value, grad *mat.Dense, step int) *mat.Dense {
	next := mat.DenseCopyOf(value)
	w := next.RawMatrix().Data
	g := flatten(grad)
	m := s.slot(op, v, "m").RawMatrix().Data
	vv := s.slot(op, v, "v").RawMatrix().Data

	if opt.WeightDecay > 0 {
		floats.AddScaled(g, opt.WeightDecay, w)
	}
	g2 := make([]float64, len(g))
	floats.MulTo(g2, g, g)

	floats.Scale(opt.Beta1, m)
	floats.AddScaled(m, 1-opt.Beta1, g)
	floats.Scale(opt.Beta2, vv)
	floats.AddScaled(vv, 1-opt.Beta2, g2)

	bc1 := 1.0 - math.Pow(opt.Beta1, float64(step))
	bc2 := 1.0 - math.Pow(opt.Beta2, float64(step))
	for i := range w {
		mCorrected := m[i] / bc1
		vCorrected := vv[i] / bc2
		w[i] -= opt.LearningRate * mCorrected / (math.Sqrt(vCorrected) + opt.Epsilon)
	}
	return next
}

// SGDOptimizer implements stochastic gradient descent with momentum
type SGDOptimizer struct {
	LearningRate float64
	Momentum     float64
	WeightDecay  float64
}

// NewSGDOptimizer creates a new SGD optimizer. Momentum 0 is plain gradient descent.
func NewSGDOptimizer(lr float64, momentum float64) *SGDOptimizer {
	return &SGDOptimizer{LearningRate: lr, Momentum: momentum}
}

// ComputeGradients implements Optimizer
func (opt *SGDOptimizer) ComputeGradients(loss *Node) (GradientList, error) {
	return computeGradients(loss)
}

// ApplyGradients implements Optimizer
func (opt *SGDOptimizer) ApplyGradients(grads GradientList) (*Node, error) {
	return applyGradients(opt, grads)
}

func (opt *SGDOptimizer) name() string { return "sgd" }

func (opt *SGDOptimizer) update(s *Session, op *Node, v *Variable, value, grad *mat.Dense, _ int) *mat.Dense {
	next := mat.DenseCopyOf(value)
	w := next.RawMatrix().Data
	g := flatten(grad)
	if opt.WeightDecay > 0 {
		floats.AddScaled(g, opt.WeightDecay, w)
	}
	velocity := s.slot(op, v, "velocity").RawMatrix().Data
	floats.Scale(opt.Momentum, velocity)
	floats.AddScaled(velocity, -opt.LearningRate, g)
	floats.Add(w, velocity)
	return next
}
