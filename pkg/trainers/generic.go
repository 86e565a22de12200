// Package trainers builds the training step of a model from one or more
// objectives.
package trainers

import (
	"log"
	"math"

	"github.com/cifkao/neuralmonkey/pkg/autodiff"
	"github.com/cifkao/neuralmonkey/pkg/model"
	"github.com/cifkao/neuralmonkey/pkg/summary"
	"github.com/pkg/errors"
)

var (
	// ErrNoObjectives is returned when a trainer is built without objectives
	ErrNoObjectives = errors.New("trainer needs at least one objective")
	// ErrNoResults is returned when an executable collects no session results
	ErrNoResults = errors.New("no session results to collect")
	// ErrNoGradients is returned when no objective or regularization cost
	// depends on a trainable variable
	ErrNoGradients = errors.New("no objective has a gradient for any trainable variable")
)

// Objective is one training criterion. When Gradients is nil the loss is
// differentiated by the trainer's optimizer.
type Objective struct {
	Name      string
	Decoder   model.Component
	Loss      *autodiff.Node
	Gradients autodiff.GradientList
}

// Optimizer is what the trainer needs from an optimizer
type Optimizer interface {
	GradientProvider
	ApplyGradients(grads autodiff.GradientList) (*autodiff.Node, error)
}

// Config holds the trainer settings. ClipNorm 0 disables clipping.
type Config struct {
	L1Weight  float64
	L2Weight  float64
	ClipNorm  float64
	Optimizer Optimizer
	Registry  *summary.MetricRegistry
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Optimizer == nil {
		return errors.New("trainer config: optimizer is required")
	}
	if c.Registry == nil {
		return errors.New("trainer config: metric registry is required")
	}
	if c.L1Weight < 0 || c.L2Weight < 0 || math.IsNaN(c.L1Weight) || math.IsNaN(c.L2Weight) {
		return errors.Errorf("trainer config: regularization weights must be non-negative, got l1=%v l2=%v", c.L1Weight, c.L2Weight)
	}
	if c.ClipNorm < 0 || math.IsNaN(c.ClipNorm) {
		return errors.Errorf("trainer config: clip norm must be non-negative, got %v", c.ClipNorm)
	}
	return nil
}

// GenericTrainer combines the objectives, regularization and the optimizer
// into a single update node
type GenericTrainer struct {
	objectives  []Objective
	regularizer *Regularizer
	gradients   autodiff.GradientList
	trainOp     *autodiff.Node
	losses      []*autodiff.Node
	components  model.ComponentSet

	scalarSummaries    *summary.Merged
	histogramSummaries *summary.Merged
	imageSummaries     *summary.Merged
}

// NewGenericTrainer builds the trainer's nodes in the graph of the objectives.
//
// It returns ErrNoGradients when the summed gradient list is empty. The
// trainer registers train_l1, train_l2 and one gr_<variable> histogram per
// gradient in cfg.Registry, so every trainer needs its own registry; sharing
// one fails with summary.ErrDuplicateTag.
func NewGenericTrainer(objectives []Objective, cfg Config) (*GenericTrainer, error) {
	if len(objectives) == 0 {
		return nil, ErrNoObjectives
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for i, o := range objectives {
		if o.Loss == nil {
			return nil, errors.Errorf("objective %d (%s) has no loss", i, o.Name)
		}
		if !o.Loss.IsScalar() {
			return nil, errors.Wrapf(autodiff.ErrNotScalar, "objective %s", o.Name)
		}
	}
	g := objectives[0].Loss.Graph()

	reg, err := NewRegularizer(g, cfg.L1Weight, cfg.L2Weight, cfg.Registry)
	if err != nil {
		return nil, errors.Wrap(err, "regularization")
	}
	t := &GenericTrainer{objectives: objectives, regularizer: reg}

	t.losses = make([]*autodiff.Node, 0, len(objectives)+2)
	partial := make([]autodiff.GradientList, 0, len(objectives)+2)
	for _, o := range objectives {
		t.losses = append(t.losses, o.Loss)
		if o.Gradients != nil {
			partial = append(partial, o.Gradients)
			continue
		}
		grads, err := cfg.Optimizer.ComputeGradients(o.Loss)
		if err != nil {
			return nil, errors.Wrapf(err, "gradients of objective %s", o.Name)
		}
		partial = append(partial, grads)
	}
	t.losses = append(t.losses, reg.L1Value, reg.L2Value)

	for _, cost := range reg.Costs() {
		grads, err := cfg.Optimizer.ComputeGradients(cost)
		if err != nil {
			return nil, errors.Wrap(err, "gradients of regularization")
		}
		partial = append(partial, grads)
	}

	if t.gradients, err = SumGradients(partial...); err != nil {
		return nil, err
	}
	if len(t.gradients) == 0 {
		return nil, ErrNoGradients
	}

	if cfg.ClipNorm > 0 {
		for i := range t.gradients {
			if t.gradients[i].Grad, err = autodiff.ClipByNorm(t.gradients[i].Grad, cfg.ClipNorm); err != nil {
				return nil, errors.Wrapf(err, "clipping gradient of %s", t.gradients[i].Param.Name())
			}
		}
		log.Printf("trainer: clipping %d gradients to norm %v", len(t.gradients), cfg.ClipNorm)
	}

	if t.trainOp, err = cfg.Optimizer.ApplyGradients(t.gradients); err != nil {
		return nil, errors.Wrap(err, "applying gradients")
	}

	sets := make([]model.ComponentSet, len(objectives))
	for i, o := range objectives {
		sets[i] = model.Collect(o.Decoder)
	}
	if t.components, err = model.Union(sets...); err != nil {
		return nil, err
	}

	grads := cfg.Registry.Collection(summary.CollectionGradients)
	for _, gr := range t.gradients {
		if err := grads.Histogram("gr_"+gr.Param.Name(), gr.Grad); err != nil {
			return nil, errors.Wrap(err, "gradient summaries")
		}
	}
	t.scalarSummaries = cfg.Registry.Merge(summary.CollectionTrain)
	t.histogramSummaries = cfg.Registry.Merge(summary.CollectionGradients)
	t.imageSummaries = cfg.Registry.Merge(summary.CollectionValPlots)

	log.Printf("trainer: %d objectives, %d gradient entries", len(objectives), len(t.gradients))
	return t, nil
}

// Losses returns the objective losses followed by the L1 and L2 values
func (t *GenericTrainer) Losses() []*autodiff.Node {
	return append([]*autodiff.Node(nil), t.losses...)
}

// Gradients returns the aggregated (and clipped) gradients
func (t *GenericTrainer) Gradients() autodiff.GradientList {
	return append(autodiff.GradientList(nil), t.gradients...)
}

// TrainOp returns the update node
func (t *GenericTrainer) TrainOp() *autodiff.Node { return t.trainOp }

// Regularizer returns the regularization nodes
func (t *GenericTrainer) Regularizer() *Regularizer { return t.regularizer }

// Components returns every component the objectives depend on
func (t *GenericTrainer) Components() model.ComponentSet { return t.components }

// Executable returns a single training step. With summaries false the
// summary blobs are not fetched. train is accepted for interface
// compatibility; the update is always run.
func (t *GenericTrainer) Executable(train, summaries bool) *TrainExecutable {
	exe := &TrainExecutable{
		components: t.components,
		trainOp:    t.trainOp,
		losses:     t.losses,
	}
	if summaries {
		exe.scalarSummaries = t.scalarSummaries
		exe.histogramSummaries = t.histogramSummaries
		exe.imageSummaries = t.imageSummaries
	}
	return exe
}
