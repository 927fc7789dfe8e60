// Package training drives graphs through training sessions.
//
// Train runs epochs of mini-batch updates with one of the optim algorithms,
// checks the parameters for numeric overflow after every epoch, evaluates
// the optional validation and test datasets and stops early once the
// validation cost stalls. TrainLBFGS minimizes the full dataset cost of
// small graphs with the bounded L-BFGS optimizer instead.
//
// Expected end states (overflow, cancellation, early stopping) are reported
// as a StopReason, never as errors.
package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/born-ml/graphnet/internal/graph"
	"github.com/born-ml/graphnet/internal/optim"
	"github.com/born-ml/graphnet/internal/parallel"
)

// Validation enables early stopping on a held out dataset.
type Validation struct {
	Dataset *Dataset
	// Tolerance is the minimum decrease of the validation cost counted as
	// an improvement.
	Tolerance float32
	// EpochsInterval is the number of epochs without improvement after
	// which training stops (default 5).
	EpochsInterval int
}

// Options configures Train. Zero values select the defaults.
type Options struct {
	Algorithm optim.Algorithm // default: optim.AdamConfig{}
	Dropout   float64         // dropout probability of fully connected layers
	Seed      int64           // shuffling and dropout seed, 0 seeds from the clock

	Validation *Validation
	Test       *Dataset

	Sink   Sink         // default: NopSink
	Logger *slog.Logger // default: slog.Default()

	// Parallel bounds the overflow check fan-out.
	Parallel *parallel.Config
}

func (o Options) withDefaults() Options {
	if o.Algorithm == nil {
		o.Algorithm = optim.AdamConfig{}
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
	if o.Sink == nil {
		o.Sink = NopSink{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Validation != nil && o.Validation.EpochsInterval == 0 {
		v := *o.Validation
		v.EpochsInterval = 5
		o.Validation = &v
	}
	if o.Parallel == nil {
		cfg := parallel.DefaultConfig()
		o.Parallel = &cfg
	}
	return o
}

// Train trains g on data for at most epochs epochs.
//
// A canceled ctx stops the session between two batches with the
// TrainingCanceled reason; the returned error is only set for invalid
// arguments and failures of the graph or the updater.
func Train(ctx context.Context, g *graph.Graph, data *Dataset, epochs int, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	if err := checkSession(g, data, epochs, opts); err != nil {
		return nil, err
	}
	updater, err := opts.Algorithm.New(g.WeightedLayers())
	if err != nil {
		return nil, err
	}

	//nolint:gosec // math/rand is appropriate for shuffling and dropout
	rng := rand.New(rand.NewSource(opts.Seed))
	t := &trainer{g: g, data: data, opts: opts, updater: updater, rng: rng, start: time.Now()}

	opts.Sink.SessionStarted(Session{
		Epochs:     epochs,
		Batches:    len(data.Batches()),
		Samples:    data.Count(),
		Parameters: g.Parameters(),
		Algorithm:  opts.Algorithm.String(),
	})
	reason, err := t.run(ctx, epochs)
	if err != nil {
		opts.Logger.Error("training failed", "epoch", t.result.Epochs+1, "error", err)
		return nil, err
	}
	return t.stop(reason), nil
}

func checkSession(g *graph.Graph, data *Dataset, epochs int, opts Options) error {
	if epochs <= 0 {
		return fmt.Errorf("training: invalid epochs %d", epochs)
	}
	if opts.Dropout < 0 || opts.Dropout >= 1 {
		return fmt.Errorf("training: dropout %v out of [0, 1)", opts.Dropout)
	}
	datasets := []*Dataset{data, opts.Test}
	if opts.Validation != nil {
		if opts.Validation.Dataset == nil {
			return errors.New("training: validation without dataset")
		}
		if opts.Validation.EpochsInterval < 0 || opts.Validation.Tolerance < 0 {
			return fmt.Errorf("training: invalid validation %+v", *opts.Validation)
		}
		datasets = append(datasets, opts.Validation.Dataset)
	}
	for i, d := range datasets {
		if d == nil {
			if i == 0 {
				return errors.New("training: no dataset")
			}
			continue
		}
		if err := checkDataset(g, d); err != nil {
			return err
		}
	}
	return nil
}

func checkDataset(g *graph.Graph, d *Dataset) error {
	if d.Count() == 0 {
		return errors.New("training: empty dataset")
	}
	if d.InputLength() != g.InputInfo().Size() || d.OutputLength() != g.OutputInfo().Size() {
		return fmt.Errorf("training: dataset samples [%d -> %d] do not fit graph %s",
			d.InputLength(), d.OutputLength(), g)
	}
	return nil
}

type trainer struct {
	g       *graph.Graph
	data    *Dataset
	opts    Options
	updater optim.Updater
	rng     *rand.Rand
	start   time.Time
	result  Result

	best      float32
	sinceBest int
}

func (t *trainer) run(ctx context.Context, epochs int) (StopReason, error) {
	t.best = float32(math.Inf(1))
	for epoch := 1; epoch <= epochs; epoch++ {
		start := time.Now()
		t.data.Shuffle(t.rng)

		training, canceled, err := t.epoch(ctx, epoch)
		if err != nil || canceled {
			return TrainingCanceled, err
		}

		if err := CheckOverflow(ctx, t.g.WeightedLayers(), *t.opts.Parallel); err != nil {
			if errors.Is(err, ErrNumericOverflow) {
				t.opts.Logger.Warn("numeric overflow", "epoch", epoch, "error", err)
				return NumericOverflow, nil
			}
			if ctx.Err() != nil {
				return TrainingCanceled, nil
			}
			return 0, err
		}

		report := EpochReport{Epoch: epoch, Training: training}
		if v := t.opts.Validation; v != nil {
			e, err := Evaluate(t.g, v.Dataset)
			if err != nil {
				return 0, err
			}
			report.Validation = &e
		}
		if t.opts.Test != nil {
			e, err := Evaluate(t.g, t.opts.Test)
			if err != nil {
				return 0, err
			}
			report.Test = &e
		}
		report.Elapsed = time.Since(start)

		t.result.Epochs = epoch
		t.result.Reports = append(t.result.Reports, report)
		t.opts.Sink.EpochCompleted(report)

		if report.Validation != nil && t.converged(report.Validation.Cost) {
			return EarlyStopping, nil
		}
	}
	return EpochsCompleted, nil
}

// epoch trains every batch once. canceled is set when ctx is done before
// the last batch.
func (t *trainer) epoch(ctx context.Context, epoch int) (e Evaluation, canceled bool, err error) {
	batches := t.data.Batches()
	var cost float64
	for i, b := range batches {
		if ctx.Err() != nil {
			return Evaluation{}, true, nil
		}
		step, err := t.g.Backpropagate(b.X, b.Y, t.opts.Dropout, t.rng, t.updater)
		if err != nil {
			return Evaluation{}, false, fmt.Errorf("epoch %d batch %d: %w", epoch, i+1, err)
		}
		cost += float64(step.Cost) * float64(step.Samples)
		e.Correct += step.Correct
		e.Samples += step.Samples
		t.opts.Sink.BatchCompleted(BatchProgress{
			Epoch:   epoch,
			Batch:   i + 1,
			Batches: len(batches),
			Cost:    step.Cost,
			Correct: step.Correct,
			Samples: step.Samples,
		})
	}
	e.Cost = float32(cost / float64(e.Samples))
	return e, false, nil
}

// converged records the validation cost of an epoch and reports whether it
// failed to improve for EpochsInterval epochs.
func (t *trainer) converged(cost float32) bool {
	v := t.opts.Validation
	if cost < t.best-v.Tolerance {
		t.best = cost
		t.sinceBest = 0
		return false
	}
	t.sinceBest++
	return t.sinceBest >= v.EpochsInterval
}

func (t *trainer) stop(reason StopReason) *Result {
	t.result.StopReason = reason
	t.result.Elapsed = time.Since(t.start)
	t.opts.Sink.SessionStopped(&t.result)
	return &t.result
}

// Evaluate runs inference over every batch of d.
func Evaluate(g *graph.Graph, d *Dataset) (Evaluation, error) {
	var e Evaluation
	var cost float64
	for _, b := range d.Batches() {
		c, correct, err := g.Evaluate(b.X, b.Y)
		if err != nil {
			return Evaluation{}, err
		}
		cost += float64(c) * float64(b.Size())
		e.Correct += correct
		e.Samples += b.Size()
	}
	if e.Samples > 0 {
		e.Cost = float32(cost / float64(e.Samples))
	}
	return e, nil
}
