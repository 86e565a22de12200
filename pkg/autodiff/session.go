package autodiff

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// FeedDict maps placeholders to the values they take for one run
type FeedDict map[*Node]*mat.Dense

// Merge returns a new feed dict holding the entries of fd overridden by other
func (fd FeedDict) Merge(other FeedDict) FeedDict {
	out := make(FeedDict, len(fd)+len(other))
	for k, v := range fd {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Evaluator computes node values within a single run
type Evaluator interface {
	Eval(n *Node) (*mat.Dense, error)
}

// Fetchable is anything a session can produce a result for
type Fetchable interface {
	Fetch(ev Evaluator) (interface{}, error)
}

// Fetch evaluates the node and returns a copy of its value. Nodes executed
// for their side effects produce a nil *mat.Dense.
func (n *Node) Fetch(ev Evaluator) (interface{}, error) {
	v, err := ev.Eval(n)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return (*mat.Dense)(nil), nil
	}
	return mat.DenseCopyOf(v), nil
}

// Scalars fetches a list of 1x1 nodes as a []float64
type Scalars []*Node

// Fetch implements Fetchable
func (s Scalars) Fetch(ev Evaluator) (interface{}, error) {
	out := make([]float64, len(s))
	for i, n := range s {
		if n == nil {
			return nil, errors.Errorf("scalar %d is nil", i)
		}
		if !n.IsScalar() {
			return nil, errors.Wrapf(ErrNotScalar, "scalar %d (%s)", i, n)
		}
		v, err := ev.Eval(n)
		if err != nil {
			return nil, err
		}
		out[i] = v.At(0, 0)
	}
	return out, nil
}

// Fetches names what a run should produce
type Fetches map[string]Fetchable

// Results holds the fetched values of one run, keyed like the Fetches
type Results map[string]interface{}

// Session is one execution context of a graph. It owns a private copy of
// every variable and the optimizer slots, so several sessions of the same
// graph behave as independent replicas.
type Session struct {
	graph *Graph

	mu     sync.Mutex
	values map[*Variable]*mat.Dense
	slots  map[slotKey]*mat.Dense
	steps  map[*Node]int
}

type slotKey struct {
	op   *Node
	v    *Variable
	name string
}

// NewSession creates a session with every variable at its initial value
func NewSession(g *Graph) *Session {
	s := &Session{
		graph:  g,
		values: make(map[*Variable]*mat.Dense),
		slots:  make(map[slotKey]*mat.Dense),
		steps:  make(map[*Node]int),
	}
	for _, v := range g.Variables() {
		s.values[v] = mat.DenseCopyOf(v.initial)
	}
	return s
}

// Graph returns the session's graph
func (s *Session) Graph() *Graph { return s.graph }

// Value returns a copy of the session's current value of v
func (s *Session) Value(v *Variable) (*mat.Dense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, err := s.lookup(v)
	if err != nil {
		return nil, err
	}
	return mat.DenseCopyOf(val), nil
}

// Assign overwrites the session's value of v
func (s *Session) Assign(v *Variable, value *mat.Dense) error {
	if value == nil {
		return errors.New("assign: value cannot be nil")
	}
	rows, cols := value.Dims()
	if r, c := v.node.Shape(); r != rows || c != cols {
		return errors.Wrapf(ErrShapeMismatch, "assign %s: expected %dx%d, got %dx%d", v.name, r, c, rows, cols)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[v] = mat.DenseCopyOf(value)
	return nil
}

// lookup must be called with s.mu held
func (s *Session) lookup(v *Variable) (*mat.Dense, error) {
	val, ok := s.values[v]
	if !ok {
		// variables created after the session started
		if v.node.graph != s.graph {
			return nil, errors.Wrapf(ErrForeignNode, "variable %s", v.name)
		}
		val = mat.DenseCopyOf(v.initial)
		s.values[v] = val
	}
	return val, nil
}

// slot returns optimizer state for (op, v, name), creating zeros on first use.
// Must be called with s.mu held.
func (s *Session) slot(op *Node, v *Variable, name string) *mat.Dense {
	key := slotKey{op: op, v: v, name: name}
	m, ok := s.slots[key]
	if !ok {
		r, c := v.node.Shape()
		m = mat.NewDense(r, c, nil)
		s.slots[key] = m
	}
	return m
}

// Run evaluates the fetches. Fetches are evaluated in key order and every
// variable read sees the value from the start of the run, so updates made
// by an apply node become visible only in the next run.
func (s *Session) Run(ctx context.Context, fetches Fetches, feeds FeedDict) (Results, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ex := &execution{
		ctx:      ctx,
		session:  s,
		feeds:    feeds,
		snapshot: make(map[*Variable]*mat.Dense, len(s.values)),
		memo:     make(map[*Node]*mat.Dense),
		done:     make(map[*Node]bool),
	}
	for v, val := range s.values {
		ex.snapshot[v] = val
	}

	keys := make([]string, 0, len(fetches))
	for k := range fetches {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	results := make(Results, len(fetches))
	for _, k := range keys {
		f := fetches[k]
		if f == nil {
			return nil, errors.Errorf("fetch %q is nil", k)
		}
		v, err := f.Fetch(ex)
		if err != nil {
			return nil, errors.Wrapf(err, "fetch %q", k)
		}
		results[k] = v
	}
	return results, nil
}

// execution is the state of a single Session.Run
type execution struct {
	ctx      context.Context
	session  *Session
	feeds    FeedDict
	snapshot map[*Variable]*mat.Dense
	memo     map[*Node]*mat.Dense
	done     map[*Node]bool
}

func (ex *execution) variable(v *Variable) (*mat.Dense, error) {
	if val, ok := ex.snapshot[v]; ok {
		return val, nil
	}
	val, err := ex.session.lookup(v)
	if err != nil {
		return nil, err
	}
	ex.snapshot[v] = val
	return val, nil
}

// Eval implements Evaluator
func (ex *execution) Eval(n *Node) (*mat.Dense, error) {
	if n == nil {
		return nil, errors.New("cannot evaluate nil node")
	}
	if n.graph != ex.session.graph {
		return nil, errors.Wrapf(ErrForeignNode, "evaluating %s", n.name)
	}
	if ex.done[n] {
		return ex.memo[n], nil
	}
	if err := ex.ctx.Err(); err != nil {
		return nil, err
	}

	in := make([]*mat.Dense, len(n.inputs))
	for i, input := range n.inputs {
		v, err := ex.Eval(input)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, errors.Errorf("%s: input %s has no value", n.name, input.name)
		}
		in[i] = v
	}

	v, err := n.op.forward(ex, n, in)
	if err != nil {
		return nil, errors.Wrapf(err, "evaluating %s", n.name)
	}
	ex.memo[n] = v
	ex.done[n] = true
	return v, nil
}
