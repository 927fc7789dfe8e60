package training

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/born-ml/graphnet/internal/graph"
	"github.com/born-ml/graphnet/internal/lbfgs"
	"github.com/born-ml/graphnet/internal/nn"
)

// LBFGSOptions configures TrainLBFGS.
type LBFGSOptions struct {
	Settings lbfgs.Settings

	// Bound limits every parameter to [-Bound, Bound]; 0 leaves them free.
	Bound float64

	Logger *slog.Logger
}

// LBFGSResult summarizes a TrainLBFGS session.
type LBFGSResult struct {
	Status      lbfgs.Status
	Cost        float32 // full dataset cost at the final parameters, training outputs included
	Iterations  int
	Evaluations int
	Elapsed     time.Duration
}

// TrainLBFGS minimizes the average cost of g over the whole dataset with the
// bounded L-BFGS optimizer, treating every weight and bias as one variable.
// The graph holds the final parameters on return.
func TrainLBFGS(ctx context.Context, g *graph.Graph, data *Dataset, opts LBFGSOptions) (*LBFGSResult, error) {
	if data == nil {
		return nil, fmt.Errorf("training: no dataset")
	}
	if err := checkDataset(g, data); err != nil {
		return nil, err
	}
	if opts.Bound < 0 {
		return nil, fmt.Errorf("training: negative bound %v", opts.Bound)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Settings.Logger == nil {
		opts.Settings.Logger = opts.Logger
	}

	obj := &objective{g: g, data: data, layers: g.WeightedLayers()}
	x0 := obj.flatten()
	problem := lbfgs.Problem{Func: obj.value, Grad: obj.gradient}
	if opts.Bound > 0 {
		problem.Lower = make([]float64, len(x0))
		problem.Upper = make([]float64, len(x0))
		for i := range x0 {
			problem.Lower[i], problem.Upper[i] = -opts.Bound, opts.Bound
		}
	}

	start := time.Now()
	opts.Logger.Info("lbfgs training started", "parameters", len(x0), "samples", data.Count())
	res, err := lbfgs.Minimize(ctx, problem, x0, opts.Settings)
	if err != nil {
		return nil, err
	}
	if obj.err != nil {
		return nil, obj.err
	}
	obj.load(res.X)

	out := &LBFGSResult{
		Status:      res.Status,
		Cost:        float32(res.F),
		Iterations:  res.Iterations,
		Evaluations: res.Evaluations,
		Elapsed:     time.Since(start),
	}
	opts.Logger.Info("lbfgs training stopped", "status", out.Status, "cost", out.Cost,
		"iterations", out.Iterations, "elapsed", out.Elapsed)
	return out, nil
}

// objective evaluates the dataset cost and its gradient for a flat
// parameter vector. The last evaluation is cached since the minimizer asks
// for the value and the gradient at the same point.
type objective struct {
	g      *graph.Graph
	data   *Dataset
	layers []nn.WeightedLayer

	x    []float64
	f    float64
	grad []float64
	err  error
}

func (o *objective) flatten() []float64 {
	var x []float64
	for _, l := range o.layers {
		for _, v := range l.Weights().Data() {
			x = append(x, float64(v))
		}
		for _, v := range l.Biases().Data() {
			x = append(x, float64(v))
		}
	}
	return x
}

func (o *objective) load(x []float64) {
	off := 0
	for _, l := range o.layers {
		for _, p := range [][]float32{l.Weights().Data(), l.Biases().Data()} {
			for i := range p {
				p[i] = float32(x[off+i])
			}
			off += len(p)
		}
	}
}

func (o *objective) evaluate(x []float64) {
	if o.x != nil && slices.Equal(o.x, x) {
		return
	}
	o.x = append(o.x[:0], x...)
	o.grad = slices.Grow(o.grad[:0], len(x))[:len(x)]
	clear(o.grad)
	o.f = 0
	if o.err != nil {
		o.f = math.Inf(1)
		return
	}

	o.load(x)
	n := float64(o.data.Count())
	for _, b := range o.data.Batches() {
		grads, step, err := o.g.Gradients(b.X, b.Y)
		if err != nil {
			o.err = err
			o.f = math.Inf(1)
			return
		}
		o.f += float64(step.Cost+step.TrainingCost) * float64(step.Samples) / n
		off := 0
		for i := range grads.Weights {
			for _, p := range [][]float32{grads.Weights[i].Data(), grads.Biases[i].Data()} {
				for j, v := range p {
					o.grad[off+j] += float64(v) / n
				}
				off += len(p)
			}
		}
		grads.Free()
	}
}

func (o *objective) value(x []float64) float64 {
	o.evaluate(x)
	return o.f
}

func (o *objective) gradient(grad, x []float64) {
	o.evaluate(x)
	copy(grad, o.grad)
}
