package training_test

import (
	"bytes"
	"context"
	"log/slog"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/graphnet/internal/activation"
	"github.com/born-ml/graphnet/internal/cost"
	"github.com/born-ml/graphnet/internal/graph"
	"github.com/born-ml/graphnet/internal/lbfgs"
	"github.com/born-ml/graphnet/internal/nn"
	"github.com/born-ml/graphnet/internal/optim"
	"github.com/born-ml/graphnet/internal/parallel"
	"github.com/born-ml/graphnet/internal/tensor"
	"github.com/born-ml/graphnet/internal/training"
)

func layerOptions(seed int64) []nn.Option {
	return []nn.Option{nn.WithRand(rand.New(rand.NewSource(seed)))}
}

// blobs returns n samples of two separable 2D clusters with one-hot labels.
func blobs(n int, seed int64) (*tensor.Tensor, *tensor.Tensor) {
	rng := rand.New(rand.NewSource(seed))
	x := tensor.MustNew(n, 2)
	y := tensor.MustNew(n, 2)
	for i := 0; i < n; i++ {
		class := i % 2
		center := float64(2*class - 1)
		x.Set(i, 0, float32(center+rng.NormFloat64()*0.3))
		x.Set(i, 1, float32(-center+rng.NormFloat64()*0.3))
		y.Set(i, class, 1)
	}
	return x, y
}

func classifier(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := graph.Sequential(tensor.Linear(2),
		nn.FullyConnected(8, activation.Tanh, layerOptions(1)...),
		nn.Softmax(2, layerOptions(2)...))
	require.NoError(t, err)
	return g
}

func blobDataset(t *testing.T, n, batch int, seed int64) *training.Dataset {
	t.Helper()
	x, y := blobs(n, seed)
	d, err := training.NewDataset(x, y, batch)
	require.NoError(t, err)
	return d
}

type recordingSink struct {
	sessions int
	batches  []training.BatchProgress
	epochs   []training.EpochReport
	stopped  *training.Result

	onBatch func(p training.BatchProgress)
}

func (s *recordingSink) SessionStarted(training.Session) { s.sessions++ }
func (s *recordingSink) BatchCompleted(p training.BatchProgress) {
	s.batches = append(s.batches, p)
	if s.onBatch != nil {
		s.onBatch(p)
	}
}
func (s *recordingSink) EpochCompleted(r training.EpochReport) { s.epochs = append(s.epochs, r) }
func (s *recordingSink) SessionStopped(r *training.Result)     { s.stopped = r }

func TestDataset(t *testing.T) {
	x := tensor.MustNew(10, 3)
	y := tensor.MustNew(10, 1)
	for i := 0; i < 10; i++ {
		for j := 0; j < 3; j++ {
			x.Set(i, j, float32(i))
		}
		y.Set(i, 0, float32(i))
	}
	d, err := training.NewDataset(x, y, 4)
	require.NoError(t, err)
	assert.Equal(t, 10, d.Count())
	require.Len(t, d.Batches(), 3)
	assert.Equal(t, 2, d.Batches()[2].Size())
	assert.Equal(t, 3, d.InputLength())
	assert.Equal(t, 1, d.OutputLength())

	d.Shuffle(rand.New(rand.NewSource(1)))
	sizes := map[int]int{}
	seen := map[float32]bool{}
	for _, b := range d.Batches() {
		sizes[b.Size()]++
		for i := 0; i < b.Size(); i++ {
			v := b.Y.At(i, 0)
			assert.Equal(t, []float32{v, v, v}, b.X.Row(i), "inputs follow their outputs")
			seen[v] = true
		}
	}
	assert.Equal(t, map[int]int{4: 2, 2: 1}, sizes)
	assert.Len(t, seen, 10)
	assert.Equal(t, float32(3), x.At(3, 0), "source tensors are copied")

	_, err = training.NewDataset(x, tensor.MustNew(9, 1), 4)
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
	_, err = training.NewDataset(x, y, 0)
	assert.Error(t, err)
	d.Free()
	assert.Zero(t, d.Count())
}

func TestFromBatches(t *testing.T) {
	d, err := training.FromBatches(
		training.Batch{X: tensor.MustNew(3, 2), Y: tensor.MustNew(3, 1)},
		training.Batch{X: tensor.MustNew(1, 2), Y: tensor.MustNew(1, 1)},
	)
	require.NoError(t, err)
	assert.Equal(t, 4, d.Count())

	_, err = training.FromBatches(
		training.Batch{X: tensor.MustNew(3, 2), Y: tensor.MustNew(3, 1)},
		training.Batch{X: tensor.MustNew(1, 3), Y: tensor.MustNew(1, 1)},
	)
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

// A 784-30-10 sigmoid network trained with SGD on the same deterministic
// batch lowers its cost at every step.
func TestSGDDecreasesCost(t *testing.T) {
	g, err := graph.Sequential(tensor.Linear(784),
		nn.FullyConnected(30, activation.Sigmoid, layerOptions(7)...),
		nn.Output(10, activation.Sigmoid, cost.CrossEntropy, layerOptions(8)...))
	require.NoError(t, err)

	const n = 20
	x := tensor.MustNew(n, 784)
	y := tensor.MustNew(n, 10)
	for i := 0; i < n; i++ {
		for j := 0; j < 784; j++ {
			x.Set(i, j, float32((i*31+j*7)%255)/255)
		}
		y.Set(i, i%10, 1)
	}

	updater, err := optim.SGDConfig{LearningRate: 0.5}.New(g.WeightedLayers())
	require.NoError(t, err)
	previous := float32(math.Inf(1))
	for i := 0; i < 5; i++ {
		step, err := g.Backpropagate(x, y, 0, nil, updater)
		require.NoError(t, err)
		assert.Less(t, step.Cost, previous, "batch %d", i)
		previous = step.Cost
	}
}

func TestTrain(t *testing.T) {
	g := classifier(t)
	data := blobDataset(t, 64, 8, 1)
	test := blobDataset(t, 32, 32, 2)
	sink := &recordingSink{}

	res, err := training.Train(context.Background(), g, data, 10, training.Options{
		Algorithm: optim.AdamConfig{LearningRate: 0.05},
		Seed:      3,
		Test:      test,
		Sink:      sink,
	})
	require.NoError(t, err)

	assert.Equal(t, training.EpochsCompleted, res.StopReason)
	assert.Equal(t, 10, res.Epochs)
	assert.Len(t, res.Reports, 10)
	assert.Equal(t, 1, sink.sessions)
	assert.Len(t, sink.batches, 80)
	assert.Len(t, sink.epochs, 10)
	assert.Same(t, res, sink.stopped)

	last, ok := res.Last()
	require.True(t, ok)
	require.NotNil(t, last.Test)
	assert.Nil(t, last.Validation)
	assert.Equal(t, 64, last.Training.Samples)
	assert.Greater(t, last.Test.Accuracy(), 0.95)
	assert.Less(t, last.Training.Cost, res.Reports[0].Training.Cost)
}

func TestTrainWithDropoutAndSGD(t *testing.T) {
	g := classifier(t)
	res, err := training.Train(context.Background(), g, blobDataset(t, 32, 4, 1), 3, training.Options{
		Algorithm: optim.SGDConfig{LearningRate: 0.5, Momentum: 0.9},
		Dropout:   0.2,
		Seed:      1,
	})
	require.NoError(t, err)
	assert.Equal(t, training.EpochsCompleted, res.StopReason)
}

func TestTrainCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &recordingSink{onBatch: func(p training.BatchProgress) {
		if p.Batch == 2 {
			cancel()
		}
	}}

	res, err := training.Train(ctx, classifier(t), blobDataset(t, 32, 4, 1), 5, training.Options{Seed: 1, Sink: sink})
	require.NoError(t, err)
	assert.Equal(t, training.TrainingCanceled, res.StopReason)
	assert.Zero(t, res.Epochs)
	assert.Len(t, sink.batches, 2)
	assert.NotNil(t, sink.stopped)
}

func TestTrainNumericOverflow(t *testing.T) {
	g := classifier(t)
	g.WeightedLayers()[0].Weights().Data()[0] = float32(math.NaN())

	res, err := training.Train(context.Background(), g, blobDataset(t, 16, 4, 1), 5, training.Options{Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, training.NumericOverflow, res.StopReason)
	assert.Zero(t, res.Epochs)
}

func TestCheckOverflow(t *testing.T) {
	g := classifier(t)
	cfg := parallel.Config{Enabled: true, NumWorkers: 2, MinChunkSize: 1}
	require.NoError(t, training.CheckOverflow(context.Background(), g.WeightedLayers(), cfg))

	g.WeightedLayers()[1].Biases().Data()[1] = float32(math.Inf(-1))
	err := training.CheckOverflow(context.Background(), g.WeightedLayers(), cfg)
	assert.ErrorIs(t, err, training.ErrNumericOverflow)
	assert.ErrorContains(t, err, "layer 1")
}

func TestTrainEarlyStopping(t *testing.T) {
	res, err := training.Train(context.Background(), classifier(t), blobDataset(t, 16, 4, 1), 10, training.Options{
		Seed: 1,
		Validation: &training.Validation{
			Dataset:        blobDataset(t, 8, 8, 2),
			Tolerance:      1e9,
			EpochsInterval: 2,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, training.EarlyStopping, res.StopReason)
	assert.Equal(t, 3, res.Epochs)
	assert.NotNil(t, res.Reports[0].Validation)
}

func TestTrainInvalidArguments(t *testing.T) {
	g := classifier(t)
	data := blobDataset(t, 8, 4, 1)
	wrong, err := training.NewDataset(tensor.MustNew(4, 3), tensor.MustNew(4, 2), 2)
	require.NoError(t, err)

	tests := []struct {
		name   string
		data   *training.Dataset
		epochs int
		opts   training.Options
	}{
		{"no epochs", data, 0, training.Options{}},
		{"dropout", data, 1, training.Options{Dropout: 1}},
		{"no dataset", nil, 1, training.Options{}},
		{"dataset shape", wrong, 1, training.Options{}},
		{"test shape", data, 1, training.Options{Test: wrong}},
		{"validation without dataset", data, 1, training.Options{Validation: &training.Validation{}}},
		{"bad algorithm", data, 1, training.Options{Algorithm: optim.AdamConfig{Beta1: 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := training.Train(context.Background(), g, tt.data, tt.epochs, tt.opts)
			assert.Error(t, err)
			assert.Nil(t, res)
		})
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	_, err := training.Train(context.Background(), classifier(t), blobDataset(t, 8, 4, 1), 1, training.Options{
		Seed: 1,
		Sink: training.LogSink{Logger: logger},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "training started")
	assert.Contains(t, out, "batch completed")
	assert.Contains(t, out, "epoch completed")
	assert.Contains(t, out, "reason=epochs-completed")
}

func TestTrainLBFGS(t *testing.T) {
	g, err := graph.Sequential(tensor.Linear(2),
		nn.FullyConnected(4, activation.Tanh, layerOptions(1)...),
		nn.Output(2, activation.Sigmoid, cost.CrossEntropy, layerOptions(2)...))
	require.NoError(t, err)
	data := blobDataset(t, 32, 8, 1)

	before, err := training.Evaluate(g, data)
	require.NoError(t, err)

	const bound = 2.0
	res, err := training.TrainLBFGS(context.Background(), g, data, training.LBFGSOptions{
		Settings: lbfgs.Settings{MaxIterations: 50},
		Bound:    bound,
	})
	require.NoError(t, err)
	assert.Greater(t, res.Iterations, 0)

	after, err := training.Evaluate(g, data)
	require.NoError(t, err)
	assert.Less(t, after.Cost, before.Cost)
	assert.InDelta(t, after.Cost, res.Cost, 1e-4)

	for _, l := range g.WeightedLayers() {
		for _, p := range [][]float32{l.Weights().Data(), l.Biases().Data()} {
			for _, v := range p {
				assert.LessOrEqual(t, math.Abs(float64(v)), bound)
			}
		}
	}

	_, err = training.TrainLBFGS(context.Background(), g, data, training.LBFGSOptions{Bound: -1})
	assert.Error(t, err)
}
