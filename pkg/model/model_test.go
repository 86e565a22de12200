package model

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/cifkao/neuralmonkey/pkg/autodiff"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

type fakeComponent struct {
	id   ComponentID
	deps []Component
}

func (f *fakeComponent) ID() ComponentID { return f.id }
func (f *fakeComponent) Dependencies() []Component { return f.deps }

func TestCollect(t *testing.T) {
	a := &fakeComponent{id: "a"}
	b := &fakeComponent{id: "b", deps: []Component{a}}
	c := &fakeComponent{id: "c", deps: []Component{a, b}}
	// cycles must not loop forever
	a.deps = []Component{c}

	set := Collect(b)
	if len(set) != 3 || !set.Contains("a") || !set.Contains("b") || !set.Contains("c") {
		t.Errorf("unexpected set %v", set.IDs())
	}
	if len(Collect(nil)) != 0 {
		t.Error("collecting nil should give an empty set")
	}
}

func TestUnion(t *testing.T) {
	if _, err := Union(); err == nil {
		t.Error("expected an error for an empty union")
	}
	a := &fakeComponent{id: "a"}
	b := &fakeComponent{id: "b"}
	u, err := Union(Collect(a), Collect(b), Collect(a))
	if err != nil {
		t.Fatal(err)
	}
	ids := u.IDs()
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("unexpected union %v", ids)
	}
}

func buildToyModel(t *testing.T, loss string) (*autodiff.Graph, *Encoder, *Encoder, *Decoder) {
	t.Helper()
	g := autodiff.NewGraph()
	rng := rand.New(rand.NewSource(1))
	input, err := NewEncoder(g, EncoderConfig{Name: "input", BatchSize: 3, InputDim: 4, OutputDim: 5, Activation: "tanh"}, nil, rng)
	if err != nil {
		t.Fatal(err)
	}
	hidden, err := NewEncoder(g, EncoderConfig{Name: "hidden", OutputDim: 6, Activation: "relu"}, input, rng)
	if err != nil {
		t.Fatal(err)
	}
	dec, err := NewDecoder(g, DecoderConfig{Name: "tags", OutputDim: 2, Loss: loss, Activation: "sigmoid"}, []*Encoder{input, hidden}, rng)
	if err != nil {
		t.Fatal(err)
	}
	return g, input, hidden, dec
}

func TestEncoderDecoderGraph(t *testing.T) {
	g, input, hidden, dec := buildToyModel(t, LossCrossEntropy)

	if r, c := hidden.Output().Shape(); r != 3 || c != 6 {
		t.Errorf("hidden output is %dx%d, expected 3x6", r, c)
	}
	if r, c := dec.Logits().Shape(); r != 3 || c != 2 {
		t.Errorf("logits are %dx%d, expected 3x2", r, c)
	}
	if !dec.Cost().IsScalar() {
		t.Error("cost must be scalar")
	}

	names := map[string]bool{}
	for _, v := range g.TrainableVariables() {
		names[v.Name()] = true
	}
	for _, want := range []string{"input/weights", "input/bias", "hidden/weights", "hidden/bias", "tags/input/weights", "tags/hidden/weights", "tags/bias"} {
		if !names[want] {
			t.Errorf("missing variable %s", want)
		}
	}
	if len(dec.Variables()) != 3 || len(input.Variables()) != 2 {
		t.Errorf("unexpected variable counts %d %d", len(dec.Variables()), len(input.Variables()))
	}

	set := Collect(dec)
	if len(set) != 3 || !set.Contains("input") || !set.Contains("hidden") {
		t.Errorf("unexpected components %v", set.IDs())
	}

	x := mat.NewDense(3, 4, []float64{1, 0, 0, 1, 0.5, -0.5, 0.2, 0, -1, 1, 0, 0})
	feeds, err := hidden.Feed(x)
	if err != nil {
		t.Fatal(err)
	}
	labels, err := dec.FeedLabels([]int{0, 1, 1})
	if err != nil {
		t.Fatal(err)
	}
	res, err := autodiff.NewSession(g).Run(context.Background(), autodiff.Fetches{
		"cost": autodiff.Scalars{dec.Cost()},
	}, feeds.Merge(labels))
	if err != nil {
		t.Fatal(err)
	}
	cost := res["cost"].([]float64)[0]
	if math.IsNaN(cost) || cost <= 0 {
		t.Errorf("unexpected cross-entropy cost %v", cost)
	}
}

func TestDecoderMSE(t *testing.T) {
	g, input, _, dec := buildToyModel(t, LossMSE)
	if dec.LossName() != LossMSE {
		t.Errorf("unexpected loss %s", dec.LossName())
	}
	if dec.Output() == dec.Logits() {
		t.Error("mse decoder with an activation should not output raw logits")
	}

	x := mat.NewDense(3, 4, nil)
	feeds, _ := input.Feed(x)
	// sigmoid(0) = 0.5 everywhere since the input and biases are zero
	y := mat.NewDense(3, 2, []float64{0.5, 0.5, 0.5, 0.5, 1.5, 0.5})
	res, err := autodiff.NewSession(g).Run(context.Background(), autodiff.Fetches{
		"cost": autodiff.Scalars{dec.Cost()},
	}, feeds.Merge(dec.FeedTargets(y)))
	if err != nil {
		t.Fatal(err)
	}
	if got := res["cost"].([]float64)[0]; math.Abs(got-1.0/6) > 1e-12 {
		t.Errorf("cost = %v, expected 1/6", got)
	}
}

func TestComponentConfigErrors(t *testing.T) {
	g := autodiff.NewGraph()
	if _, err := NewEncoder(g, EncoderConfig{Name: "e", BatchSize: 2, InputDim: 3, OutputDim: 4, Activation: "swish"}, nil, nil); err == nil {
		t.Error("expected an error for an unknown activation")
	}
	if _, err := NewEncoder(g, EncoderConfig{Name: "e", OutputDim: 4}, nil, nil); err == nil {
		t.Error("expected an error for a missing input dimension")
	}

	a, err := NewEncoder(g, EncoderConfig{Name: "a", BatchSize: 2, InputDim: 3, OutputDim: 4}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewEncoder(g, EncoderConfig{Name: "b", BatchSize: 5, InputDim: 3, OutputDim: 4}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewDecoder(g, DecoderConfig{Name: "d", OutputDim: 2}, []*Encoder{a, b}, nil); !errors.Is(err, autodiff.ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch for mixed batch sizes, got %v", err)
	}
	if _, err := NewDecoder(g, DecoderConfig{Name: "d2", OutputDim: 2, Loss: "hinge"}, []*Encoder{a}, nil); err == nil {
		t.Error("expected an error for an unknown loss")
	}
	if _, err := NewDecoder(g, DecoderConfig{Name: "d3", OutputDim: 2}, nil, nil); err == nil {
		t.Error("expected an error for a decoder without encoders")
	}
}
