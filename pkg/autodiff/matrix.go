package autodiff

import (
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// NewMatrix creates a zero matrix with the specified dimensions
func NewMatrix(rows, cols int) (*mat.Dense, error) {
	if rows <= 0 || cols <= 0 {
		return nil, errors.Errorf("invalid matrix dimensions: rows=%d, cols=%d (must be positive)", rows, cols)
	}
	return mat.NewDense(rows, cols, nil), nil
}

// MustNewMatrix creates a zero matrix with the specified dimensions
// Panics if dimensions are invalid (use in non-production code only)
func MustNewMatrix(rows, cols int) *mat.Dense {
	m, err := NewMatrix(rows, cols)
	if err != nil {
		panic(err)
	}
	return m
}

// NewScalar creates a 1x1 matrix holding v
func NewScalar(v float64) *mat.Dense {
	return mat.NewDense(1, 1, []float64{v})
}

// NewMatrixFromRows creates a matrix from row slices. All rows must have the same length.
func NewMatrixFromRows(rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, errors.New("cannot create matrix from empty rows")
	}
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, errors.Errorf("row %d has %d columns, expected %d", i, len(row), cols)
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(rows), cols, data), nil
}

// NewRandomMatrix creates a matrix with values drawn uniformly from [-scale, scale)
func NewRandomMatrix(rng *rand.Rand, rows, cols int, scale float64) (*mat.Dense, error) {
	m, err := NewMatrix(rows, cols)
	if err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(0))
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			m.Set(i, j, (rng.Float64()*2-1)*scale)
		}
	}
	return m, nil
}

// NewOneHot encodes labels as rows of a one-hot matrix with the given number of classes
func NewOneHot(labels []int, classes int) (*mat.Dense, error) {
	m, err := NewMatrix(len(labels), classes)
	if err != nil {
		return nil, err
	}
	for i, l := range labels {
		if l < 0 || l >= classes {
			return nil, errors.Errorf("label index out of bounds: %d (must be in [0, %d))", l, classes)
		}
		m.Set(i, l, 1)
	}
	return m, nil
}

// flatten returns the elements of m in row-major order as a fresh slice
func flatten(m mat.Matrix) []float64 {
	r, c := m.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out = append(out, m.At(i, j))
		}
	}
	return out
}

// Flatten returns the elements of m in row-major order
func Flatten(m mat.Matrix) []float64 {
	if m == nil {
		return nil
	}
	return flatten(m)
}
