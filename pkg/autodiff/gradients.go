package autodiff

import (
	"sort"

	"github.com/pkg/errors"
)

// Gradient pairs the gradient of a loss with the variable it belongs to.
// A nil Grad means the loss does not depend on the variable.
type Gradient struct {
	Grad  *Node
	Param *Variable
}

// GradientList holds one Gradient per variable
type GradientList []Gradient

// Params returns the variables of the list in order
func (gl GradientList) Params() []*Variable {
	out := make([]*Variable, len(gl))
	for i, g := range gl {
		out[i] = g.Param
	}
	return out
}

// NonNil returns the entries whose gradient is set
func (gl GradientList) NonNil() GradientList {
	out := make(GradientList, 0, len(gl))
	for _, g := range gl {
		if g.Grad != nil {
			out = append(out, g)
		}
	}
	return out
}

// Gradients builds the symbolic gradient of the scalar loss with respect to
// each of params. The result has one entry per param, in the given order;
// params that do not influence loss get a nil gradient.
func Gradients(loss *Node, params []*Variable) (GradientList, error) {
	if loss == nil {
		return nil, errors.New("gradients: loss cannot be nil")
	}
	if !loss.IsScalar() {
		return nil, errors.Wrapf(ErrNotScalar, "gradients: loss %s", loss)
	}

	targets := make(map[*Node]bool, len(params))
	for _, p := range params {
		if p == nil {
			return nil, errors.New("gradients: nil variable")
		}
		if p.node.graph != loss.graph {
			return nil, errors.Wrapf(ErrForeignNode, "gradients: variable %s", p.name)
		}
		targets[p.node] = true
	}

	// Node ids grow with creation and inputs always exist before their
	// users, so sorting by id is a topological order.
	reachable := collectReachable(loss)
	sort.Slice(reachable, func(i, j int) bool { return reachable[i].id < reachable[j].id })

	needs := make(map[*Node]bool, len(reachable))
	for _, n := range reachable {
		if targets[n] {
			needs[n] = true
			continue
		}
		for _, in := range n.inputs {
			if needs[in] {
				needs[n] = true
				break
			}
		}
	}

	contributions := make(map[*Node][]*Node)
	contributions[loss] = []*Node{loss.graph.Scalar(1)}

	for i := len(reachable) - 1; i >= 0; i-- {
		n := reachable[i]
		if !needs[n] || len(n.inputs) == 0 {
			continue
		}
		parts := contributions[n]
		if len(parts) == 0 {
			continue
		}
		upstream, err := AddN(parts...)
		if err != nil {
			return nil, errors.Wrapf(err, "gradients: accumulating at %s", n.name)
		}
		grads, err := n.op.backward(n, upstream)
		if err != nil {
			return nil, errors.Wrapf(err, "gradients: backward of %s", n.name)
		}
		for j, g := range grads {
			if g == nil || j >= len(n.inputs) || !needs[n.inputs[j]] {
				continue
			}
			contributions[n.inputs[j]] = append(contributions[n.inputs[j]], g)
		}
	}

	result := make(GradientList, len(params))
	for i, p := range params {
		result[i] = Gradient{Param: p}
		parts := contributions[p.node]
		if len(parts) == 0 {
			continue
		}
		grad, err := AddN(parts...)
		if err != nil {
			return nil, errors.Wrapf(err, "gradients: accumulating variable %s", p.name)
		}
		result[i].Grad = grad
	}
	return result, nil
}

func collectReachable(root *Node) []*Node {
	visited := make(map[*Node]bool)
	var out []*Node
	stack := []*Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[n] {
			continue
		}
		visited[n] = true
		out = append(out, n)
		stack = append(stack, n.inputs...)
	}
	return out
}
