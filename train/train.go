// Package train runs the epoch loop: a shuffled training pass followed by a
// validation pass, driving the numeric primitives through small interfaces.
package train

import (
	"context"
	"log/slog"
	"time"

	"github.com/b0tShaman/neuro-mlp/metrics"
	"github.com/b0tShaman/neuro-mlp/ml"
	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"
)

// Network is a model with a training and an evaluation mode.
type Network interface {
	Train()
	Eval()
	Forward(x *ml.Matrix) *ml.Matrix
	Backward(dOut *ml.Matrix) error
}

// Loss scores logits against labels and yields d(loss)/d(logits).
type Loss interface {
	Forward(logits *ml.Matrix, labels []float64) float64
	Backward() *ml.Matrix
}

// Optimizer is bound to the network's parameters at construction.
type Optimizer interface {
	ZeroGrad()
	Step()
}

// Batches yields mini-batches until exhausted; Reset starts a new pass.
type Batches interface {
	Reset()
	Next() (*ml.Matrix, []float64, bool)
}

type Config struct {
	Epochs int
	Logger *slog.Logger
}

// EpochResult summarizes one epoch.
type EpochResult struct {
	Epoch    int // 1-based
	Loss     float64
	Correct  int
	Total    int
	Accuracy float64 // percent of validation rows predicted correctly
	Duration time.Duration
}

// Run trains for cfg.Epochs epochs and calls onEpoch after each one. It stops
// early on context cancellation or when onEpoch returns an error.
func Run(ctx context.Context, net Network, loss Loss, opt Optimizer, trainSet, valSet Batches, cfg Config, onEpoch func(EpochResult) error) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		start := time.Now()

		avgLoss, err := TrainEpoch(ctx, net, loss, opt, trainSet, logger.With("epoch", epoch))
		if err != nil {
			return err
		}
		correct, total, err := Evaluate(ctx, net, valSet)
		if err != nil {
			return err
		}

		res := EpochResult{
			Epoch:    epoch,
			Loss:     avgLoss,
			Correct:  correct,
			Total:    total,
			Accuracy: Accuracy(correct, total),
			Duration: time.Since(start),
		}
		metrics.ObserveEpoch(res.Accuracy, res.Loss, res.Duration)
		logger.Info("epoch complete",
			"epoch", epoch,
			"loss", avgLoss,
			"accuracy", res.Accuracy,
			"validated", humanize.Comma(int64(total)),
			"duration", res.Duration.String(),
		)

		if onEpoch != nil {
			if err := onEpoch(res); err != nil {
				return err
			}
		}
	}
	return nil
}

// TrainEpoch runs one full pass of weight updates and returns the mean batch
// loss.
func TrainEpoch(ctx context.Context, net Network, loss Loss, opt Optimizer, batches Batches, logger *slog.Logger) (float64, error) {
	net.Train()
	batches.Reset()

	progress := rate.Sometimes{First: 1, Interval: 2 * time.Second}
	var totalLoss float64
	n := 0
	for x, y, ok := batches.Next(); ok; x, y, ok = batches.Next() {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		outputs := net.Forward(x)
		l := loss.Forward(outputs, y)
		opt.ZeroGrad()
		if err := net.Backward(loss.Backward()); err != nil {
			return 0, err
		}
		opt.Step()

		totalLoss += l
		n++
		metrics.ObserveBatch(len(y), l)
		progress.Do(func() {
			logger.Debug("training batch", "batch", n, "loss", l)
		})
	}
	if n == 0 {
		return 0, nil
	}
	return totalLoss / float64(n), nil
}

// Evaluate counts correct arg-max predictions over every batch without
// updating parameters.
func Evaluate(ctx context.Context, net Network, batches Batches) (correct, total int, err error) {
	net.Eval()
	batches.Reset()

	for x, y, ok := batches.Next(); ok; x, y, ok = batches.Next() {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		outputs := net.Forward(x)
		for i, label := range y {
			if ml.Argmax(outputs.Row(i)) == int(label) {
				correct++
			}
		}
		total += len(y)
	}
	return correct, total, nil
}

// Accuracy is 100 * correct / total, or 0 for an empty set.
func Accuracy(correct, total int) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(correct) / float64(total)
}
