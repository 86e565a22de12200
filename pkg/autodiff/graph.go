// Package autodiff implements a deferred computation graph over gonum
// matrices with symbolic reverse-mode differentiation.
//
// Nodes are only described when they are created. Values are produced by a
// Session, which owns the variable values of one execution context.
package autodiff

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrShapeMismatch is returned when operand shapes are incompatible
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrNotScalar is returned when a 1x1 node is required
	ErrNotScalar = errors.New("node is not a scalar")
	// ErrUnfedPlaceholder is returned when a placeholder has no value in the feed dict
	ErrUnfedPlaceholder = errors.New("placeholder was not fed")
	// ErrForeignNode is returned when nodes from different graphs are combined
	ErrForeignNode = errors.New("node belongs to a different graph")
)

// Graph holds the nodes and variables of one model
type Graph struct {
	mu        sync.Mutex
	nodes     []*Node
	variables []*Variable
	names     map[string]struct{}
}

// NewGraph creates an empty computation graph
func NewGraph() *Graph {
	return &Graph{names: make(map[string]struct{})}
}

// Node is a single operation in the graph. A node's value is a matrix, or
// nil for operations executed only for their side effects.
type Node struct {
	id     int
	name   string
	graph  *Graph
	op     op
	inputs []*Node
	rows   int
	cols   int
}

// Name returns the unique name of the node
func (n *Node) Name() string { return n.name }

// Graph returns the graph the node belongs to
func (n *Node) Graph() *Graph { return n.graph }

// Shape returns the static shape of the node's value
func (n *Node) Shape() (rows, cols int) { return n.rows, n.cols }

// IsScalar reports whether the node produces a 1x1 value
func (n *Node) IsScalar() bool { return n.rows == 1 && n.cols == 1 }

// Inputs returns the nodes this node is computed from
func (n *Node) Inputs() []*Node {
	out := make([]*Node, len(n.inputs))
	copy(out, n.inputs)
	return out
}

func (n *Node) String() string {
	return fmt.Sprintf("%s(%dx%d)", n.name, n.rows, n.cols)
}

// VariableConfig holds configuration options for creating a variable
type VariableConfig struct {
	Name      string
	Trainable bool
}

// DefaultVariableConfig returns the default configuration for variables
func DefaultVariableConfig(name string) *VariableConfig {
	return &VariableConfig{
		Name:      name,
		Trainable: true,
	}
}

// Variable is mutable model state. Every session holds its own value of
// each variable, initialized from the variable's initial value.
type Variable struct {
	name      string
	trainable bool
	initial   *mat.Dense
	node      *Node
}

// Name returns the variable name
func (v *Variable) Name() string { return v.name }

// Trainable reports whether optimizers update the variable
func (v *Variable) Trainable() bool { return v.trainable }

// Node returns the node that reads the variable's current value
func (v *Variable) Node() *Node { return v.node }

// Initial returns a copy of the initial value
func (v *Variable) Initial() *mat.Dense { return mat.DenseCopyOf(v.initial) }

// NewVariable registers a variable initialized with init
func (g *Graph) NewVariable(init *mat.Dense, config *VariableConfig) (*Variable, error) {
	if init == nil {
		return nil, errors.New("initial value cannot be nil")
	}
	if config == nil || config.Name == "" {
		return nil, errors.New("variable name cannot be empty")
	}

	g.mu.Lock()
	if _, exists := g.names[config.Name]; exists {
		g.mu.Unlock()
		return nil, errors.Errorf("variable %q already exists", config.Name)
	}
	g.names[config.Name] = struct{}{}
	g.mu.Unlock()

	v := &Variable{
		name:      config.Name,
		trainable: config.Trainable,
		initial:   mat.DenseCopyOf(init),
	}
	rows, cols := init.Dims()
	node, err := g.addNode(config.Name, &variableOp{v: v}, nil, rows, cols)
	if err != nil {
		return nil, err
	}
	v.node = node

	g.mu.Lock()
	g.variables = append(g.variables, v)
	g.mu.Unlock()
	return v, nil
}

// Variables returns all variables in creation order
func (g *Graph) Variables() []*Variable {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Variable, len(g.variables))
	copy(out, g.variables)
	return out
}

// TrainableVariables returns the trainable variables in creation order
func (g *Graph) TrainableVariables() []*Variable {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Variable, 0, len(g.variables))
	for _, v := range g.variables {
		if v.trainable {
			out = append(out, v)
		}
	}
	return out
}

// Placeholder creates a node whose value must be supplied in the feed dict
func (g *Graph) Placeholder(name string, rows, cols int) (*Node, error) {
	if rows <= 0 || cols <= 0 {
		return nil, errors.Errorf("placeholder %q: dimensions must be positive: rows=%d, cols=%d", name, rows, cols)
	}
	return g.addNode(name, placeholderOp{}, nil, rows, cols)
}

// Constant creates a node with a fixed value
func (g *Graph) Constant(value *mat.Dense) (*Node, error) {
	if value == nil {
		return nil, errors.New("constant value cannot be nil")
	}
	rows, cols := value.Dims()
	return g.addNode("", &constOp{value: mat.DenseCopyOf(value)}, nil, rows, cols)
}

// Scalar creates a 1x1 constant node
func (g *Graph) Scalar(v float64) *Node {
	n, _ := g.Constant(NewScalar(v))
	return n
}

func (g *Graph) addNode(name string, o op, inputs []*Node, rows, cols int) (*Node, error) {
	for _, in := range inputs {
		if in == nil {
			return nil, errors.Errorf("%s: input node cannot be nil", o.kind())
		}
		if in.graph != g {
			return nil, errors.Wrapf(ErrForeignNode, "%s input %s", o.kind(), in.name)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	n := &Node{
		id:     len(g.nodes),
		graph:  g,
		op:     o,
		inputs: inputs,
		rows:   rows,
		cols:   cols,
	}
	if name == "" {
		name = fmt.Sprintf("%s_%d", o.kind(), n.id)
	}
	n.name = name
	g.nodes = append(g.nodes, n)
	return n, nil
}
