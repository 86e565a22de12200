package trainers

import (
	"github.com/cifkao/neuralmonkey/pkg/autodiff"
	"github.com/pkg/errors"
)

// GradientProvider differentiates a loss with respect to the trainable
// variables. autodiff optimizers implement it.
type GradientProvider interface {
	ComputeGradients(loss *autodiff.Node) (autodiff.GradientList, error)
}

// SumGradients adds up gradients of the same variable across lists. Nil
// gradients are skipped; variables without any contribution are left out.
// The result is ordered by first appearance of each variable.
func SumGradients(lists ...autodiff.GradientList) (autodiff.GradientList, error) {
	index := make(map[*autodiff.Variable]int)
	var out autodiff.GradientList
	for _, list := range lists {
		for _, g := range list {
			if g.Grad == nil {
				continue
			}
			if g.Param == nil {
				return nil, errors.New("sum gradients: gradient without a variable")
			}
			i, ok := index[g.Param]
			if !ok {
				index[g.Param] = len(out)
				out = append(out, g)
				continue
			}
			sum, err := autodiff.Add(out[i].Grad, g.Grad)
			if err != nil {
				return nil, errors.Wrapf(err, "sum gradients of %s", g.Param.Name())
			}
			out[i].Grad = sum
		}
	}
	return out, nil
}
