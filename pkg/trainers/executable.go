package trainers

import (
	"github.com/cifkao/neuralmonkey/pkg/autodiff"
	"github.com/cifkao/neuralmonkey/pkg/model"
	"github.com/cifkao/neuralmonkey/pkg/runners"
	"github.com/cifkao/neuralmonkey/pkg/summary"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Fetch keys of a training step
const (
	FetchTrainOp            = "train_op"
	FetchLosses             = "losses"
	FetchScalarSummaries    = "scalar_summaries"
	FetchHistogramSummaries = "histogram_summaries"
	FetchImageSummaries     = "image_summaries"
)

// TrainExecutable runs one training step on every session
type TrainExecutable struct {
	components model.ComponentSet
	trainOp    *autodiff.Node
	losses     []*autodiff.Node

	scalarSummaries    *summary.Merged
	histogramSummaries *summary.Merged
	imageSummaries     *summary.Merged

	result *runners.ExecutionResult
}

var _ runners.Executable = (*TrainExecutable)(nil)

func (e *TrainExecutable) summariesEnabled() bool { return e.scalarSummaries != nil }

// NextToExecute implements runners.Executable
func (e *TrainExecutable) NextToExecute() runners.NextExecute {
	fetches := autodiff.Fetches{
		FetchTrainOp: e.trainOp,
		FetchLosses:  autodiff.Scalars(e.losses),
	}
	if e.summariesEnabled() {
		fetches[FetchScalarSummaries] = e.scalarSummaries
		fetches[FetchHistogramSummaries] = e.histogramSummaries
		fetches[FetchImageSummaries] = e.imageSummaries
	}
	return runners.NextExecute{
		Components: e.components,
		Fetches:    fetches,
		Feeds:      autodiff.FeedDict{},
	}
}

func blob(r autodiff.Results, key string) ([]byte, error) {
	b, ok := r[key].([]byte)
	if !ok {
		return nil, errors.Errorf("result %q: expected []byte, got %T", key, r[key])
	}
	return b, nil
}

// CollectResults implements runners.Executable. Losses are averaged over the
// sessions; summaries are taken from the first session.
func (e *TrainExecutable) CollectResults(results []autodiff.Results) error {
	if len(results) == 0 {
		return ErrNoResults
	}

	res := &runners.ExecutionResult{Outputs: []interface{}{}}
	if e.summariesEnabled() {
		var err error
		if res.ScalarSummaries, err = blob(results[0], FetchScalarSummaries); err != nil {
			return err
		}
		if res.HistogramSummaries, err = blob(results[0], FetchHistogramSummaries); err != nil {
			return err
		}
		if res.ImageSummaries, err = blob(results[0], FetchImageSummaries); err != nil {
			return err
		}
	}

	sum := make([]float64, len(e.losses))
	for i, r := range results {
		losses, ok := r[FetchLosses].([]float64)
		if !ok {
			return errors.Errorf("session %d: losses missing", i)
		}
		if len(losses) != len(e.losses) {
			return errors.Errorf("session %d: got %d losses, expected %d", i, len(losses), len(e.losses))
		}
		floats.Add(sum, losses)
	}
	floats.Scale(1/float64(len(results)), sum)
	res.Losses = sum

	e.result = res
	return nil
}

// Result implements runners.Executable
func (e *TrainExecutable) Result() *runners.ExecutionResult { return e.result }
