package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"

	"github.com/cifkao/neuralmonkey/pkg/autodiff"
	"github.com/cifkao/neuralmonkey/pkg/core"
	"github.com/cifkao/neuralmonkey/pkg/model"
	"github.com/cifkao/neuralmonkey/pkg/runners"
	"github.com/cifkao/neuralmonkey/pkg/summary"
	"github.com/cifkao/neuralmonkey/pkg/trainers"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const (
	batchSize    = 16
	inputDim     = 6
	hiddenDim    = 12
	numClasses   = 3
	summaryEvery = 10
)

// toyBatch draws inputs whose class is the argmax of the first numClasses
// features and whose score is the mean of all features
func toyBatch(rng *rand.Rand) (x *mat.Dense, labels []int, scores *mat.Dense) {
	x = mat.NewDense(batchSize, inputDim, nil)
	scores = mat.NewDense(batchSize, 1, nil)
	labels = make([]int, batchSize)
	for i := 0; i < batchSize; i++ {
		sum := 0.0
		for j := 0; j < inputDim; j++ {
			v := rng.Float64()*2 - 1
			x.Set(i, j, v)
			sum += v
			if j < numClasses && v > x.At(i, labels[i]) {
				labels[i] = j
			}
		}
		scores.Set(i, 0, sum/inputDim)
	}
	return x, labels, scores
}

func runTrain(args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	configPath := fs.String("config", "", "trainer config JSON (defaults when empty)")
	saveConfig := fs.String("save-config", "", "write the effective config to this path")
	steps := fs.Int("steps", -1, "override the number of steps")
	sessions := fs.Int("sessions", -1, "override the number of sessions")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := core.NewDefaultTrainerConfig()
	cfg.LearningRate = 1e-2
	if *configPath != "" {
		var err error
		if cfg, err = core.LoadTrainerConfig(*configPath); err != nil {
			return err
		}
	}
	if *steps >= 0 {
		cfg.Steps = *steps
	}
	if *sessions >= 0 {
		cfg.Sessions = *sessions
	}
	if *saveConfig != "" {
		if err := core.SaveTrainerConfig(cfg, *saveConfig); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return train(ctx, cfg)
}

func train(ctx context.Context, cfg *core.TrainerConfig) error {
	log.Println("train started")
	defer log.Println("train finished")

	rng := rand.New(rand.NewSource(cfg.Seed))
	g := autodiff.NewGraph()
	enc, err := model.NewEncoder(g, model.EncoderConfig{
		Name: "encoder", BatchSize: batchSize, InputDim: inputDim, OutputDim: hiddenDim, Activation: "tanh",
	}, nil, rng)
	if err != nil {
		return err
	}
	classes, err := model.NewDecoder(g, model.DecoderConfig{Name: "class", OutputDim: numClasses}, []*model.Encoder{enc}, rng)
	if err != nil {
		return err
	}
	score, err := model.NewDecoder(g, model.DecoderConfig{Name: "score", OutputDim: 1, Loss: model.LossMSE}, []*model.Encoder{enc}, rng)
	if err != nil {
		return err
	}

	registry := summary.NewMetricRegistry()
	if err := registry.Image(summary.CollectionValPlots, "class_logits", classes.Logits()); err != nil {
		return err
	}
	settings, err := cfg.TrainerSettings(registry)
	if err != nil {
		return err
	}
	trainer, err := trainers.NewCrossEntropyTrainer([]*model.Decoder{classes, score}, nil, settings)
	if err != nil {
		return errors.Wrap(err, "building trainer")
	}

	n := cfg.SessionCount()
	sessions := make([]*autodiff.Session, n)
	for i := range sessions {
		sessions[i] = autodiff.NewSession(g)
	}
	runner, err := runners.NewRunner(sessions...)
	if err != nil {
		return err
	}
	log.Printf("optimizer %s, lr %v, %d sessions, %d steps", cfg.OptimizerName, cfg.LearningRate, n, cfg.Steps)

	for step := 0; step < cfg.Steps; step++ {
		feeds := make([]autodiff.FeedDict, n)
		for i := range feeds {
			x, labels, scores := toyBatch(rng)
			fd, err := enc.Feed(x)
			if err != nil {
				return err
			}
			lf, err := classes.FeedLabels(labels)
			if err != nil {
				return err
			}
			feeds[i] = fd.Merge(lf).Merge(score.FeedTargets(scores))
		}

		withSummaries := cfg.Summaries && step%summaryEvery == 0
		res, err := runner.Run(ctx, trainer.Executable(true, withSummaries), feeds)
		if err != nil {
			return errors.Wrapf(err, "step %d", step)
		}

		if step%summaryEvery == 0 || step == cfg.Steps-1 {
			log.Printf("step %d: class_xent %.4f score_xent %.4f l1 %.4f l2 %.4f",
				step, res.Losses[0], res.Losses[1], res.Losses[2], res.Losses[3])
		}
		if withSummaries {
			if err := logSummaries(step, res); err != nil {
				return err
			}
		}
	}
	return nil
}

func logSummaries(step int, res *runners.ExecutionResult) error {
	for name, blob := range map[string][]byte{
		"scalar":    res.ScalarSummaries,
		"histogram": res.HistogramSummaries,
		"image":     res.ImageSummaries,
	} {
		values, err := summary.Decode(blob)
		if err != nil {
			return errors.Wrapf(err, "step %d %s summaries", step, name)
		}
		log.Printf("step %d: %d %s summaries (%d bytes)", step, len(values), name, len(blob))
	}
	return nil
}
