// Package runners executes executables on one or more sessions.
package runners

import (
	"context"
	"log"

	"github.com/cifkao/neuralmonkey/pkg/autodiff"
	"github.com/cifkao/neuralmonkey/pkg/model"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// ErrAlreadyCollected is returned by Run for an executable that already has a
// result
var ErrAlreadyCollected = errors.New("executable already has a result")

// NextExecute is one step of an executable: the components taking part,
// what to fetch and the extra feeds for every session
type NextExecute struct {
	Components model.ComponentSet
	Fetches    autodiff.Fetches
	Feeds      autodiff.FeedDict
}

// ExecutionResult is the outcome of an executable. Summary blobs are nil when
// summaries were not requested.
type ExecutionResult struct {
	Outputs            []interface{}
	Losses             []float64
	ScalarSummaries    []byte
	HistogramSummaries []byte
	ImageSummaries     []byte
}

// Executable is driven by a Runner. NextToExecute is called until Result
// returns non-nil; CollectResults gets one Results per session, in session
// order.
type Executable interface {
	NextToExecute() NextExecute
	CollectResults(results []autodiff.Results) error
	Result() *ExecutionResult
}

// Runner runs executables on a fixed list of sessions concurrently
type Runner struct {
	sessions []*autodiff.Session
}

// NewRunner creates a runner over the given sessions
func NewRunner(sessions ...*autodiff.Session) (*Runner, error) {
	if len(sessions) == 0 {
		return nil, errors.New("runner needs at least one session")
	}
	for i, s := range sessions {
		if s == nil {
			return nil, errors.Errorf("session %d is nil", i)
		}
	}
	return &Runner{sessions: sessions}, nil
}

// Sessions returns the number of sessions
func (r *Runner) Sessions() int { return len(r.sessions) }

func (r *Runner) feedsFor(feeds []autodiff.FeedDict, i int) autodiff.FeedDict {
	switch len(feeds) {
	case 0:
		return nil
	case 1:
		return feeds[0]
	}
	return feeds[i]
}

// Run drives exe until it produces a result. feeds is empty, a single feed
// dict shared by every session, or one feed dict per session. An executable
// is run once; one that already has a result gives ErrAlreadyCollected.
func (r *Runner) Run(ctx context.Context, exe Executable, feeds []autodiff.FeedDict) (*ExecutionResult, error) {
	if exe == nil {
		return nil, errors.New("executable cannot be nil")
	}
	if exe.Result() != nil {
		return nil, ErrAlreadyCollected
	}
	if n := len(feeds); n > 1 && n != len(r.sessions) {
		return nil, errors.Errorf("got %d feed dicts for %d sessions", n, len(r.sessions))
	}

	for exe.Result() == nil {
		next := exe.NextToExecute()
		results := make([]autodiff.Results, len(r.sessions))

		g, gctx := errgroup.WithContext(ctx)
		for i, s := range r.sessions {
			i, s := i, s
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				fd := r.feedsFor(feeds, i).Merge(next.Feeds)
				res, err := s.Run(gctx, next.Fetches, fd)
				if err != nil {
					return errors.Wrapf(err, "session %d", i)
				}
				results[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			log.Printf("runner: step failed: %v", err)
			return nil, err
		}

		if err := exe.CollectResults(results); err != nil {
			return nil, errors.Wrap(err, "collecting results")
		}
	}
	return exe.Result(), nil
}
