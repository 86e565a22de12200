package runners

import (
	"context"
	"testing"

	"github.com/cifkao/neuralmonkey/pkg/autodiff"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// sumExecutable fetches the sum of a placeholder once and records it per session
type sumExecutable struct {
	node    *autodiff.Node
	steps   int
	perStep [][]float64
	result  *ExecutionResult
}

func (e *sumExecutable) NextToExecute() NextExecute {
	return NextExecute{Fetches: autodiff.Fetches{"sum": autodiff.Scalars{e.node}}}
}

func (e *sumExecutable) CollectResults(results []autodiff.Results) error {
	var sums []float64
	for _, r := range results {
		sums = append(sums, r["sum"].([]float64)[0])
	}
	e.perStep = append(e.perStep, sums)
	if len(e.perStep) == e.steps {
		e.result = &ExecutionResult{Losses: sums}
	}
	return nil
}

func (e *sumExecutable) Result() *ExecutionResult { return e.result }

func newSumGraph(t *testing.T) (*autodiff.Graph, *autodiff.Node, *autodiff.Node) {
	t.Helper()
	g := autodiff.NewGraph()
	x, err := g.Placeholder("x", 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	s, err := autodiff.Sum(x)
	if err != nil {
		t.Fatal(err)
	}
	return g, x, s
}

func TestRunnerKeepsSessionOrder(t *testing.T) {
	g, x, s := newSumGraph(t)
	sessions := make([]*autodiff.Session, 4)
	feeds := make([]autodiff.FeedDict, 4)
	for i := range sessions {
		sessions[i] = autodiff.NewSession(g)
		feeds[i] = autodiff.FeedDict{x: mat.NewDense(1, 2, []float64{float64(i), 1})}
	}
	r, err := NewRunner(sessions...)
	if err != nil {
		t.Fatal(err)
	}

	exe := &sumExecutable{node: s, steps: 2}
	res, err := r.Run(context.Background(), exe, feeds)
	if err != nil {
		t.Fatal(err)
	}
	if len(exe.perStep) != 2 {
		t.Errorf("expected 2 steps, got %d", len(exe.perStep))
	}
	for i, v := range res.Losses {
		if v != float64(i+1) {
			t.Errorf("session %d: got %v, expected %v", i, v, i+1)
		}
	}
}

func TestRunnerSharedFeeds(t *testing.T) {
	g, x, s := newSumGraph(t)
	r, _ := NewRunner(autodiff.NewSession(g), autodiff.NewSession(g))
	res, err := r.Run(context.Background(), &sumExecutable{node: s, steps: 1},
		[]autodiff.FeedDict{{x: mat.NewDense(1, 2, []float64{2, 3})}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Losses) != 2 || res.Losses[0] != 5 || res.Losses[1] != 5 {
		t.Errorf("unexpected results %v", res.Losses)
	}
}

func TestRunnerErrors(t *testing.T) {
	if _, err := NewRunner(); err == nil {
		t.Error("expected an error for a runner without sessions")
	}

	g, x, s := newSumGraph(t)
	r, _ := NewRunner(autodiff.NewSession(g), autodiff.NewSession(g), autodiff.NewSession(g))

	// placeholder left unfed
	if _, err := r.Run(context.Background(), &sumExecutable{node: s, steps: 1}, nil); err == nil {
		t.Error("expected the session error to propagate")
	}

	two := []autodiff.FeedDict{{x: mat.NewDense(1, 2, nil)}, {x: mat.NewDense(1, 2, nil)}}
	if _, err := r.Run(context.Background(), &sumExecutable{node: s, steps: 1}, two); err == nil {
		t.Error("expected an error for a feed count mismatch")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	one := []autodiff.FeedDict{{x: mat.NewDense(1, 2, nil)}}
	if _, err := r.Run(ctx, &sumExecutable{node: s, steps: 1}, one); err == nil {
		t.Error("expected an error for a cancelled context")
	}
}

func TestRunnerRejectsCollectedExecutable(t *testing.T) {
	g, x, s := newSumGraph(t)
	r, _ := NewRunner(autodiff.NewSession(g))
	feeds := []autodiff.FeedDict{{x: mat.NewDense(1, 2, []float64{1, 2})}}

	exe := &sumExecutable{node: s, steps: 1}
	if _, err := r.Run(context.Background(), exe, feeds); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Run(context.Background(), exe, feeds); !errors.Is(err, ErrAlreadyCollected) {
		t.Errorf("expected ErrAlreadyCollected, got %v", err)
	}
	if len(exe.perStep) != 1 {
		t.Errorf("a collected executable must not run again, ran %d steps", len(exe.perStep))
	}
}
