package autodiff

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// op is the behaviour behind a node. backward receives the gradient of the
// loss with respect to n and returns one gradient per input; a nil entry
// means the input receives no gradient through n.
type op interface {
	kind() string
	forward(ex *execution, n *Node, in []*mat.Dense) (*mat.Dense, error)
	backward(n *Node, upstream *Node) ([]*Node, error)
}

type constOp struct{ value *mat.Dense }

func (o *constOp) kind() string { return "const" }
func (o *constOp) forward(_ *execution, _ *Node, _ []*mat.Dense) (*mat.Dense, error) {
	return o.value, nil
}
func (o *constOp) backward(_ *Node, _ *Node) ([]*Node, error) { return nil, nil }

type placeholderOp struct{}

func (placeholderOp) kind() string { return "placeholder" }
func (placeholderOp) forward(ex *execution, n *Node, _ []*mat.Dense) (*mat.Dense, error) {
	v, ok := ex.feeds[n]
	if !ok || v == nil {
		return nil, errors.Wrapf(ErrUnfedPlaceholder, "placeholder %s", n.name)
	}
	if r, c := v.Dims(); r != n.rows || c != n.cols {
		return nil, errors.Wrapf(ErrShapeMismatch, "placeholder %s expects %dx%d, fed %dx%d", n.name, n.rows, n.cols, r, c)
	}
	return v, nil
}
func (placeholderOp) backward(_ *Node, _ *Node) ([]*Node, error) { return nil, nil }

type variableOp struct{ v *Variable }

func (o *variableOp) kind() string { return "variable" }
func (o *variableOp) forward(ex *execution, _ *Node, _ []*mat.Dense) (*mat.Dense, error) {
	return ex.variable(o.v)
}
func (o *variableOp) backward(_ *Node, _ *Node) ([]*Node, error) { return nil, nil }

func sameShape(kind string, a, b *Node) error {
	if a == nil || b == nil {
		return errors.Errorf("%s: input nodes cannot be nil", kind)
	}
	if a.rows != b.rows || a.cols != b.cols {
		return errors.Wrapf(ErrShapeMismatch, "%s: a(%dx%d), b(%dx%d)", kind, a.rows, a.cols, b.rows, b.cols)
	}
	return nil
}

type addOp struct{}

func (addOp) kind() string { return "add" }
func (addOp) forward(_ *execution, _ *Node, in []*mat.Dense) (*mat.Dense, error) {
	var out mat.Dense
	out.Add(in[0], in[1])
	return &out, nil
}
func (addOp) backward(_ *Node, up *Node) ([]*Node, error) { return []*Node{up, up}, nil }

// Add performs element-wise addition
func Add(a, b *Node) (*Node, error) {
	if err := sameShape("add", a, b); err != nil {
		return nil, err
	}
	return a.graph.addNode("", addOp{}, []*Node{a, b}, a.rows, a.cols)
}

// AddN sums the nodes pairwise from left to right
func AddN(nodes ...*Node) (*Node, error) {
	if len(nodes) == 0 {
		return nil, errors.New("add_n: no inputs")
	}
	sum := nodes[0]
	for _, n := range nodes[1:] {
		var err error
		if sum, err = Add(sum, n); err != nil {
			return nil, err
		}
	}
	return sum, nil
}

type subOp struct{}

func (subOp) kind() string { return "subtract" }
func (subOp) forward(_ *execution, _ *Node, in []*mat.Dense) (*mat.Dense, error) {
	var out mat.Dense
	out.Sub(in[0], in[1])
	return &out, nil
}
func (subOp) backward(_ *Node, up *Node) ([]*Node, error) {
	neg, err := ScalarMultiply(up, -1)
	if err != nil {
		return nil, err
	}
	return []*Node{up, neg}, nil
}

// Subtract performs element-wise subtraction
func Subtract(a, b *Node) (*Node, error) {
	if err := sameShape("subtract", a, b); err != nil {
		return nil, err
	}
	return a.graph.addNode("", subOp{}, []*Node{a, b}, a.rows, a.cols)
}

type mulOp struct{}

func (mulOp) kind() string { return "multiply" }
func (mulOp) forward(_ *execution, _ *Node, in []*mat.Dense) (*mat.Dense, error) {
	var out mat.Dense
	out.MulElem(in[0], in[1])
	return &out, nil
}
func (mulOp) backward(n *Node, up *Node) ([]*Node, error) {
	da, err := Multiply(up, n.inputs[1])
	if err != nil {
		return nil, err
	}
	db, err := Multiply(up, n.inputs[0])
	if err != nil {
		return nil, err
	}
	return []*Node{da, db}, nil
}

// Multiply performs element-wise multiplication (Hadamard product)
func Multiply(a, b *Node) (*Node, error) {
	if err := sameShape("multiply", a, b); err != nil {
		return nil, err
	}
	return a.graph.addNode("", mulOp{}, []*Node{a, b}, a.rows, a.cols)
}

type scaleOp struct{ scalar float64 }

func (o *scaleOp) kind() string { return "scalar_multiply" }
func (o *scaleOp) forward(_ *execution, _ *Node, in []*mat.Dense) (*mat.Dense, error) {
	var out mat.Dense
	out.Scale(o.scalar, in[0])
	return &out, nil
}
func (o *scaleOp) backward(_ *Node, up *Node) ([]*Node, error) {
	d, err := ScalarMultiply(up, o.scalar)
	if err != nil {
		return nil, err
	}
	return []*Node{d}, nil
}

// ScalarMultiply multiplies a node by a constant
func ScalarMultiply(a *Node, scalar float64) (*Node, error) {
	if a == nil {
		return nil, errors.New("scalar_multiply: input node cannot be nil")
	}
	return a.graph.addNode("", &scaleOp{scalar: scalar}, []*Node{a}, a.rows, a.cols)
}

type matMulOp struct{}

func (matMulOp) kind() string { return "matmul" }
func (matMulOp) forward(_ *execution, _ *Node, in []*mat.Dense) (*mat.Dense, error) {
	var out mat.Dense
	out.Mul(in[0], in[1])
	return &out, nil
}
func (matMulOp) backward(n *Node, up *Node) ([]*Node, error) {
	a, b := n.inputs[0], n.inputs[1]
	// dL/dA = dL/dC * B^T, dL/dB = A^T * dL/dC
	bT, err := Transpose(b)
	if err != nil {
		return nil, err
	}
	da, err := MatMul(up, bT)
	if err != nil {
		return nil, err
	}
	aT, err := Transpose(a)
	if err != nil {
		return nil, err
	}
	db, err := MatMul(aT, up)
	if err != nil {
		return nil, err
	}
	return []*Node{da, db}, nil
}

// MatMul performs matrix multiplication
func MatMul(a, b *Node) (*Node, error) {
	if a == nil || b == nil {
		return nil, errors.New("matmul: input nodes cannot be nil")
	}
	if a.cols != b.rows {
		return nil, errors.Wrapf(ErrShapeMismatch, "matmul: a(%dx%d), b(%dx%d)", a.rows, a.cols, b.rows, b.cols)
	}
	return a.graph.addNode("", matMulOp{}, []*Node{a, b}, a.rows, b.cols)
}

type transposeOp struct{}

func (transposeOp) kind() string { return "transpose" }
func (transposeOp) forward(_ *execution, _ *Node, in []*mat.Dense) (*mat.Dense, error) {
	return mat.DenseCopyOf(in[0].T()), nil
}
func (transposeOp) backward(_ *Node, up *Node) ([]*Node, error) {
	d, err := Transpose(up)
	if err != nil {
		return nil, err
	}
	return []*Node{d}, nil
}

// Transpose returns the transpose of a node
func Transpose(a *Node) (*Node, error) {
	if a == nil {
		return nil, errors.New("transpose: input node cannot be nil")
	}
	return a.graph.addNode("", transposeOp{}, []*Node{a}, a.cols, a.rows)
}

type addBiasOp struct{}

func (addBiasOp) kind() string { return "add_bias" }
func (addBiasOp) forward(_ *execution, _ *Node, in []*mat.Dense) (*mat.Dense, error) {
	out := mat.DenseCopyOf(in[0])
	rows, cols := out.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Set(i, j, out.At(i, j)+in[1].At(0, j))
		}
	}
	return out, nil
}
func (addBiasOp) backward(_ *Node, up *Node) ([]*Node, error) {
	db, err := SumRows(up)
	if err != nil {
		return nil, err
	}
	return []*Node{up, db}, nil
}

// AddBias adds the 1xN row vector b to every row of a
func AddBias(a, b *Node) (*Node, error) {
	if a == nil || b == nil {
		return nil, errors.New("add_bias: input nodes cannot be nil")
	}
	if b.rows != 1 || b.cols != a.cols {
		return nil, errors.Wrapf(ErrShapeMismatch, "add_bias: a(%dx%d), bias(%dx%d)", a.rows, a.cols, b.rows, b.cols)
	}
	return a.graph.addNode("", addBiasOp{}, []*Node{a, b}, a.rows, a.cols)
}

type sumRowsOp struct{}

func (sumRowsOp) kind() string { return "sum_rows" }
func (sumRowsOp) forward(_ *execution, _ *Node, in []*mat.Dense) (*mat.Dense, error) {
	rows, cols := in[0].Dims()
	out := mat.NewDense(1, cols, nil)
	for j := 0; j < cols; j++ {
		s := 0.0
		for i := 0; i < rows; i++ {
			s += in[0].At(i, j)
		}
		out.Set(0, j, s)
	}
	return out, nil
}
func (sumRowsOp) backward(n *Node, up *Node) ([]*Node, error) {
	d, err := BroadcastRows(up, n.inputs[0].rows)
	if err != nil {
		return nil, err
	}
	return []*Node{d}, nil
}

// SumRows sums an MxN node over its rows into a 1xN node
func SumRows(a *Node) (*Node, error) {
	if a == nil {
		return nil, errors.New("sum_rows: input node cannot be nil")
	}
	return a.graph.addNode("", sumRowsOp{}, []*Node{a}, 1, a.cols)
}

type broadcastRowsOp struct{ rows int }

func (o *broadcastRowsOp) kind() string { return "broadcast_rows" }
func (o *broadcastRowsOp) forward(_ *execution, _ *Node, in []*mat.Dense) (*mat.Dense, error) {
	_, cols := in[0].Dims()
	out := mat.NewDense(o.rows, cols, nil)
	for i := 0; i < o.rows; i++ {
		out.SetRow(i, mat.Row(nil, 0, in[0]))
	}
	return out, nil
}
func (o *broadcastRowsOp) backward(_ *Node, up *Node) ([]*Node, error) {
	d, err := SumRows(up)
	if err != nil {
		return nil, err
	}
	return []*Node{d}, nil
}

// BroadcastRows repeats a 1xN node rows times
func BroadcastRows(a *Node, rows int) (*Node, error) {
	if a == nil {
		return nil, errors.New("broadcast_rows: input node cannot be nil")
	}
	if a.rows != 1 || rows <= 0 {
		return nil, errors.Wrapf(ErrShapeMismatch, "broadcast_rows: cannot broadcast %dx%d to %d rows", a.rows, a.cols, rows)
	}
	return a.graph.addNode("", &broadcastRowsOp{rows: rows}, []*Node{a}, rows, a.cols)
}

type sumOp struct{}

func (sumOp) kind() string { return "sum" }
func (sumOp) forward(_ *execution, _ *Node, in []*mat.Dense) (*mat.Dense, error) {
	return NewScalar(mat.Sum(in[0])), nil
}
func (sumOp) backward(n *Node, up *Node) ([]*Node, error) {
	d, err := Fill(up, n.inputs[0].rows, n.inputs[0].cols)
	if err != nil {
		return nil, err
	}
	return []*Node{d}, nil
}

// Sum returns the sum of all elements as a 1x1 node
func Sum(a *Node) (*Node, error) {
	if a == nil {
		return nil, errors.New("sum: input node cannot be nil")
	}
	return a.graph.addNode("", sumOp{}, []*Node{a}, 1, 1)
}

// Mean returns the mean of all elements as a 1x1 node
func Mean(a *Node) (*Node, error) {
	s, err := Sum(a)
	if err != nil {
		return nil, err
	}
	return ScalarMultiply(s, 1/float64(a.rows*a.cols))
}

type fillOp struct{ rows, cols int }

func (o *fillOp) kind() string { return "fill" }
func (o *fillOp) forward(_ *execution, _ *Node, in []*mat.Dense) (*mat.Dense, error) {
	v := in[0].At(0, 0)
	out := mat.NewDense(o.rows, o.cols, nil)
	out.Apply(func(_, _ int, _ float64) float64 { return v }, out)
	return out, nil
}
func (o *fillOp) backward(_ *Node, up *Node) ([]*Node, error) {
	d, err := Sum(up)
	if err != nil {
		return nil, err
	}
	return []*Node{d}, nil
}

// Fill broadcasts a 1x1 node to a rows x cols node
func Fill(a *Node, rows, cols int) (*Node, error) {
	if a == nil {
		return nil, errors.New("fill: input node cannot be nil")
	}
	if !a.IsScalar() {
		return nil, errors.Wrapf(ErrNotScalar, "fill: input %s", a)
	}
	if rows <= 0 || cols <= 0 {
		return nil, errors.Errorf("fill: dimensions must be positive: rows=%d, cols=%d", rows, cols)
	}
	return a.graph.addNode("", &fillOp{rows: rows, cols: cols}, []*Node{a}, rows, cols)
}

// elementwiseOp applies f to every element. df is the derivative; a nil df
// makes the op a constant for differentiation.
type elementwiseOp struct {
	name string
	f    func(float64) float64
	df   func(float64) float64
}

func (o *elementwiseOp) kind() string { return o.name }
func (o *elementwiseOp) forward(_ *execution, _ *Node, in []*mat.Dense) (*mat.Dense, error) {
	var out mat.Dense
	out.Apply(func(_, _ int, v float64) float64 { return o.f(v) }, in[0])
	return &out, nil
}
func (o *elementwiseOp) backward(n *Node, up *Node) ([]*Node, error) {
	if o.df == nil {
		return nil, nil
	}
	prime, err := elementwise(o.name+"_prime", o.df, nil, n.inputs[0])
	if err != nil {
		return nil, err
	}
	d, err := Multiply(up, prime)
	if err != nil {
		return nil, err
	}
	return []*Node{d}, nil
}

func elementwise(name string, f, df func(float64) float64, a *Node) (*Node, error) {
	if a == nil {
		return nil, errors.Errorf("%s: input node cannot be nil", name)
	}
	return a.graph.addNode("", &elementwiseOp{name: name, f: f, df: df}, []*Node{a}, a.rows, a.cols)
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}

// Abs applies the absolute value element-wise. The gradient at 0 is 0.
func Abs(a *Node) (*Node, error) {
	return elementwise("abs", math.Abs, sign, a)
}

// Square squares every element
func Square(a *Node) (*Node, error) {
	return elementwise("square", func(x float64) float64 { return x * x }, func(x float64) float64 { return 2 * x }, a)
}

// ReLU applies the ReLU activation function
func ReLU(a *Node) (*Node, error) {
	return elementwise("relu", func(x float64) float64 {
		if x > 0 {
			return x
		}
		return 0
	}, func(x float64) float64 {
		if x > 0 {
			return 1
		}
		return 0
	}, a)
}

func sigmoid(x float64) float64 { return 1.0 / (1.0 + math.Exp(-x)) }

// Sigmoid applies the logistic function
func Sigmoid(a *Node) (*Node, error) {
	return elementwise("sigmoid", sigmoid, func(x float64) float64 {
		y := sigmoid(x)
		return y * (1 - y)
	}, a)
}

// Tanh applies the hyperbolic tangent
func Tanh(a *Node) (*Node, error) {
	return elementwise("tanh", math.Tanh, func(x float64) float64 {
		y := math.Tanh(x)
		return 1 - y*y
	}, a)
}

// Constants for GELU approximation
var (
	sqrt2OverPi = math.Sqrt(2.0 / math.Pi)
	geluCoeff   = 0.044715
)

// GELU applies the tanh approximation of the GELU activation function
func GELU(a *Node) (*Node, error) {
	return elementwise("gelu", func(x float64) float64 {
		return 0.5 * x * (1.0 + math.Tanh(sqrt2OverPi*(x+geluCoeff*x*x*x)))
	}, func(x float64) float64 {
		t := math.Tanh(sqrt2OverPi * (x + geluCoeff*x*x*x))
		inner := sqrt2OverPi * (1.0 + 3.0*geluCoeff*x*x)
		return 0.5*(1.0+t) + 0.5*x*(1.0-t*t)*inner
	}, a)
}

// Activation looks up an activation by name. The empty name and "linear" return nil.
func Activation(name string) (func(*Node) (*Node, error), error) {
	switch name {
	case "", "linear":
		return nil, nil
	case "relu":
		return ReLU, nil
	case "sigmoid":
		return Sigmoid, nil
	case "tanh":
		return Tanh, nil
	case "gelu":
		return GELU, nil
	}
	return nil, errors.Errorf("unknown activation %q", name)
}

// softmaxRows computes a row-wise softmax with max subtraction for stability
func softmaxRows(logits mat.Matrix) *mat.Dense {
	rows, cols := logits.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		max := logits.At(i, 0)
		for j := 1; j < cols; j++ {
			if v := logits.At(i, j); v > max {
				max = v
			}
		}
		sum := 0.0
		for j := 0; j < cols; j++ {
			e := math.Exp(logits.At(i, j) - max)
			out.Set(i, j, e)
			sum += e
		}
		for j := 0; j < cols; j++ {
			out.Set(i, j, out.At(i, j)/sum)
		}
	}
	return out
}

type softmaxXentOp struct{}

func (softmaxXentOp) kind() string { return "softmax_cross_entropy" }
func (softmaxXentOp) forward(_ *execution, _ *Node, in []*mat.Dense) (*mat.Dense, error) {
	logits, targets := in[0], in[1]
	rows, cols := logits.Dims()
	loss := 0.0
	for i := 0; i < rows; i++ {
		max := logits.At(i, 0)
		for j := 1; j < cols; j++ {
			if v := logits.At(i, j); v > max {
				max = v
			}
		}
		sum := 0.0
		for j := 0; j < cols; j++ {
			sum += math.Exp(logits.At(i, j) - max)
		}
		logSum := math.Log(sum) + max
		for j := 0; j < cols; j++ {
			if t := targets.At(i, j); t != 0 {
				loss += t * (logSum - logits.At(i, j))
			}
		}
	}
	return NewScalar(loss / float64(rows)), nil
}
func (softmaxXentOp) backward(n *Node, up *Node) ([]*Node, error) {
	logits, targets := n.inputs[0], n.inputs[1]
	grad, err := logits.graph.addNode("", xentGradOp{}, []*Node{logits, targets}, logits.rows, logits.cols)
	if err != nil {
		return nil, err
	}
	upFill, err := Fill(up, logits.rows, logits.cols)
	if err != nil {
		return nil, err
	}
	d, err := Multiply(upFill, grad)
	if err != nil {
		return nil, err
	}
	return []*Node{d, nil}, nil
}

// xentGradOp is (softmax(logits) - targets) / batch
type xentGradOp struct{}

func (xentGradOp) kind() string { return "softmax_cross_entropy_grad" }
func (xentGradOp) forward(_ *execution, _ *Node, in []*mat.Dense) (*mat.Dense, error) {
	out := softmaxRows(in[0])
	out.Sub(out, in[1])
	rows, _ := out.Dims()
	out.Scale(1/float64(rows), out)
	return out, nil
}
func (xentGradOp) backward(_ *Node, _ *Node) ([]*Node, error) { return nil, nil }

// SoftmaxCrossEntropy computes the mean over rows of the cross-entropy
// between softmax(logits) and the target distributions (usually one-hot).
// Targets receive no gradient.
func SoftmaxCrossEntropy(logits, targets *Node) (*Node, error) {
	if err := sameShape("softmax_cross_entropy", logits, targets); err != nil {
		return nil, err
	}
	return logits.graph.addNode("", softmaxXentOp{}, []*Node{logits, targets}, 1, 1)
}

// MSELoss computes the mean squared error between predictions and targets
func MSELoss(predictions, targets *Node) (*Node, error) {
	diff, err := Subtract(predictions, targets)
	if err != nil {
		return nil, errors.Wrap(err, "mse loss")
	}
	sq, err := Square(diff)
	if err != nil {
		return nil, err
	}
	return Mean(sq)
}

type clipByNormOp struct{ clipNorm float64 }

func (o *clipByNormOp) kind() string { return "clip_by_norm" }
func (o *clipByNormOp) forward(_ *execution, _ *Node, in []*mat.Dense) (*mat.Dense, error) {
	// L2 norm over all elements (Frobenius)
	norm := mat.Norm(in[0], 2)
	if norm <= o.clipNorm {
		return in[0], nil
	}
	var out mat.Dense
	out.Scale(o.clipNorm/norm, in[0])
	return &out, nil
}
func (o *clipByNormOp) backward(_ *Node, _ *Node) ([]*Node, error) { return nil, nil }

// ClipByNorm rescales a so that its L2 norm does not exceed clipNorm,
// keeping its direction. Values already within the bound pass unchanged.
func ClipByNorm(a *Node, clipNorm float64) (*Node, error) {
	if a == nil {
		return nil, errors.New("clip_by_norm: input node cannot be nil")
	}
	if clipNorm <= 0 || math.IsNaN(clipNorm) {
		return nil, errors.Errorf("clip_by_norm: clip norm must be positive, got %v", clipNorm)
	}
	return a.graph.addNode("", &clipByNormOp{clipNorm: clipNorm}, []*Node{a}, a.rows, a.cols)
}
