package trainers

import (
	"regexp"

	"github.com/cifkao/neuralmonkey/pkg/autodiff"
	"github.com/cifkao/neuralmonkey/pkg/summary"
	"github.com/pkg/errors"
)

var biasPattern = regexp.MustCompile(`(?i)bias`)

// Regularizer holds the L1 and L2 norms of the regularizable variables and
// the weighted costs built from them. A cost is nil when its weight is zero.
type Regularizer struct {
	Variables []*autodiff.Variable
	L1Value   *autodiff.Node
	L2Value   *autodiff.Node
	L1Cost    *autodiff.Node
	L2Cost    *autodiff.Node
}

// Regularizable returns the trainable variables of g whose name does not mention bias
func Regularizable(g *autodiff.Graph) []*autodiff.Variable {
	var out []*autodiff.Variable
	for _, v := range g.TrainableVariables() {
		if !biasPattern.MatchString(v.Name()) {
			out = append(out, v)
		}
	}
	return out
}

func reduceSum(vars []*autodiff.Variable, f func(*autodiff.Node) (*autodiff.Node, error)) (*autodiff.Node, error) {
	parts := make([]*autodiff.Node, 0, len(vars))
	for _, v := range vars {
		x, err := f(v.Node())
		if err != nil {
			return nil, err
		}
		s, err := autodiff.Sum(x)
		if err != nil {
			return nil, err
		}
		parts = append(parts, s)
	}
	return autodiff.AddN(parts...)
}

// NewRegularizer builds the regularization nodes in g and registers
// train_l1 and train_l2 in the train collection of registry
func NewRegularizer(g *autodiff.Graph, l1Weight, l2Weight float64, registry *summary.MetricRegistry) (*Regularizer, error) {
	if l1Weight < 0 || l2Weight < 0 {
		return nil, errors.Errorf("regularization weights must be non-negative, got l1=%v l2=%v", l1Weight, l2Weight)
	}
	if registry == nil {
		return nil, errors.New("regularization needs a metric registry")
	}

	r := &Regularizer{Variables: Regularizable(g)}
	var err error
	if len(r.Variables) == 0 {
		r.L1Value = g.Scalar(0)
		r.L2Value = g.Scalar(0)
	} else {
		if r.L1Value, err = reduceSum(r.Variables, autodiff.Abs); err != nil {
			return nil, errors.Wrap(err, "l1 value")
		}
		if r.L2Value, err = reduceSum(r.Variables, autodiff.Square); err != nil {
			return nil, errors.Wrap(err, "l2 value")
		}
	}

	if l1Weight > 0 {
		if r.L1Cost, err = autodiff.ScalarMultiply(r.L1Value, l1Weight); err != nil {
			return nil, errors.Wrap(err, "l1 cost")
		}
	}
	if l2Weight > 0 {
		if r.L2Cost, err = autodiff.ScalarMultiply(r.L2Value, l2Weight); err != nil {
			return nil, errors.Wrap(err, "l2 cost")
		}
	}

	train := registry.Collection(summary.CollectionTrain)
	if err := train.Scalar("train_l1", r.L1Value); err != nil {
		return nil, err
	}
	if err := train.Scalar("train_l2", r.L2Value); err != nil {
		return nil, err
	}
	return r, nil
}

// Costs returns the costs that are present, L1 first
func (r *Regularizer) Costs() []*autodiff.Node {
	var out []*autodiff.Node
	for _, c := range []*autodiff.Node{r.L1Cost, r.L2Cost} {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}
