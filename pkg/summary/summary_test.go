package summary

import (
	"context"
	"testing"

	"github.com/cifkao/neuralmonkey/pkg/autodiff"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func TestHistogram(t *testing.T) {
	x := []float64{3, -1, 2, 2, 0.5}
	h := NewHistogram(x)

	if h.Min != -1 || h.Max != 3 || h.Num != 5 {
		t.Errorf("unexpected range min=%v max=%v num=%v", h.Min, h.Max, h.Num)
	}
	if h.Sum != 6.5 || h.SumSquares != 18.25 {
		t.Errorf("unexpected sums %v %v", h.Sum, h.SumSquares)
	}
	if len(h.Buckets) != 5 || len(h.BucketLimits) != 5 {
		t.Fatalf("expected 5 buckets, got %d/%d", len(h.Buckets), len(h.BucketLimits))
	}
	if floats.Sum(h.Buckets) != 5 {
		t.Errorf("buckets hold %v values, expected 5", floats.Sum(h.Buckets))
	}
	if last := h.BucketLimits[len(h.BucketLimits)-1]; last <= h.Max {
		t.Errorf("last bucket limit %v must be above the maximum", last)
	}
}

func TestHistogramConstantAndLarge(t *testing.T) {
	h := NewHistogram([]float64{4, 4, 4})
	if len(h.Buckets) != 1 || h.Buckets[0] != 3 {
		t.Errorf("constant input: unexpected buckets %v", h.Buckets)
	}

	large := make([]float64, 1000)
	for i := range large {
		large[i] = float64(i)
	}
	h = NewHistogram(large)
	if len(h.Buckets) != MaxBuckets {
		t.Errorf("expected %d buckets, got %d", MaxBuckets, len(h.Buckets))
	}
	if floats.Sum(h.Buckets) != 1000 {
		t.Errorf("buckets hold %v values, expected 1000", floats.Sum(h.Buckets))
	}
}

func TestEncodeDecode(t *testing.T) {
	values := []Value{
		{Tag: "train_l1", Kind: KindScalar, Scalar: 2.5},
		{Tag: "gr_w", Kind: KindHistogram, Histogram: NewHistogram([]float64{1, 2, 3})},
		{Tag: "attention", Kind: KindImage, Image: &Image{Rows: 1, Cols: 2, Pixels: []float64{0.1, 0.9}}},
	}
	b, err := Encode(values)
	if err != nil {
		t.Fatal(err)
	}
	again, err := Encode(values)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != string(again) {
		t.Error("encoding is not deterministic")
	}

	decoded, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(decoded) != 3 {
		t.Fatalf("decoded %d values, expected 3", len(decoded))
	}
	if decoded[0].Tag != "train_l1" || decoded[0].Scalar != 2.5 {
		t.Errorf("unexpected scalar %+v", decoded[0])
	}
	if h := decoded[1].Histogram; h == nil || h.Num != 3 || !floats.Equal(h.Buckets, values[1].Histogram.Buckets) {
		t.Errorf("unexpected histogram %+v", decoded[1].Histogram)
	}
	if img := decoded[2].Image; img == nil || img.Cols != 2 || !floats.Equal(img.Pixels, []float64{0.1, 0.9}) {
		t.Errorf("unexpected image %+v", decoded[2].Image)
	}
}

func TestEmptySummary(t *testing.T) {
	b, err := Encode(nil)
	if err != nil {
		t.Fatal(err)
	}
	if b == nil {
		t.Fatal("empty summary must not be nil")
	}
	values, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(values) != 0 {
		t.Errorf("expected no values, got %d", len(values))
	}
}

func TestRegistry(t *testing.T) {
	g := autodiff.NewGraph()
	x, _ := g.Placeholder("x", 2, 2)
	total, _ := autodiff.Sum(x)

	r := NewMetricRegistry()
	train := r.Collection(CollectionTrain)
	if err := train.Scalar("total", total); err != nil {
		t.Fatal(err)
	}
	if err := train.Scalar("total", total); !errors.Is(err, ErrDuplicateTag) {
		t.Errorf("expected ErrDuplicateTag, got %v", err)
	}
	if err := train.Scalar("matrix", x); !errors.Is(err, autodiff.ErrNotScalar) {
		t.Errorf("expected ErrNotScalar, got %v", err)
	}
	if err := r.Histogram(CollectionGradients, "x", x); err != nil {
		t.Fatal(err)
	}
	if err := r.Image(CollectionValPlots, "x", x); err != nil {
		t.Fatal(err)
	}
	if tags := r.Tags(CollectionTrain); len(tags) != 1 || tags[0] != "total" {
		t.Errorf("unexpected tags %v", tags)
	}

	xv := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	res, err := autodiff.NewSession(g).Run(context.Background(), autodiff.Fetches{
		"scalars":    train.Merge(),
		"histograms": r.Merge(CollectionGradients),
		"images":     r.Merge(CollectionValPlots),
		"empty":      r.Merge("nothing"),
	}, autodiff.FeedDict{x: xv})
	if err != nil {
		t.Fatal(err)
	}

	scalars, err := Decode(res["scalars"].([]byte))
	if err != nil {
		t.Fatal(err)
	}
	if len(scalars) != 1 || scalars[0].Scalar != 10 {
		t.Errorf("unexpected scalar summary %+v", scalars)
	}
	histograms, _ := Decode(res["histograms"].([]byte))
	if len(histograms) != 1 || histograms[0].Histogram.Sum != 10 {
		t.Errorf("unexpected histogram summary %+v", histograms)
	}
	images, _ := Decode(res["images"].([]byte))
	if len(images) != 1 || images[0].Image.Rows != 2 || !floats.Equal(images[0].Image.Pixels, []float64{1, 2, 3, 4}) {
		t.Errorf("unexpected image summary %+v", images)
	}
	if empty := res["empty"].([]byte); empty == nil {
		t.Error("merging an empty collection must produce a blob")
	}
}
