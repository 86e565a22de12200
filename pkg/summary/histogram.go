package summary

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// MaxBuckets bounds the number of histogram buckets
const MaxBuckets = 30

// Histogram summarizes a set of values. BucketLimits[i] is the exclusive
// upper edge of Buckets[i].
type Histogram struct {
	Min          float64
	Max          float64
	Num          float64
	Sum          float64
	SumSquares   float64
	BucketLimits []float64
	Buckets      []float64
}

// NewHistogram builds a histogram of x with up to MaxBuckets equal-width buckets
func NewHistogram(x []float64) *Histogram {
	if len(x) == 0 {
		return &Histogram{}
	}
	sorted := make([]float64, len(x))
	copy(sorted, x)
	sort.Float64s(sorted)

	h := &Histogram{
		Min:        floats.Min(sorted),
		Max:        floats.Max(sorted),
		Num:        float64(len(sorted)),
		Sum:        floats.Sum(sorted),
		SumSquares: floats.Dot(sorted, sorted),
	}

	n := len(sorted)
	if n > MaxBuckets {
		n = MaxBuckets
	}
	var dividers []float64
	if h.Min == h.Max {
		dividers = []float64{h.Min, math.Nextafter(h.Max, math.Inf(1))}
	} else {
		dividers = floats.Span(make([]float64, n+1), h.Min, h.Max)
		dividers[n] = math.Nextafter(h.Max, math.Inf(1))
	}

	h.Buckets = stat.Histogram(nil, dividers, sorted, nil)
	h.BucketLimits = append([]float64(nil), dividers[1:]...)
	return h
}
