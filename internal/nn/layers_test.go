package nn_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/graphnet/internal/activation"
	"github.com/born-ml/graphnet/internal/backend"
	"github.com/born-ml/graphnet/internal/nn"
	"github.com/born-ml/graphnet/internal/tensor"
)

func TestConvolutionalLayer(t *testing.T) {
	rng := rand.New(rand.NewSource(10))
	in := tensor.Volume(6, 6, 2)
	kernel := backend.KernelInfo{Height: 3, Width: 3, Count: 4}
	factory := nn.Convolutional(kernel, backend.DefaultConvolution, activation.ReLU, testOptions(10)...)

	layer, err := factory(in)
	require.NoError(t, err)
	conv := layer.(*nn.ConvolutionalLayer)
	assert.Equal(t, tensor.Volume(4, 4, 4), conv.OutputInfo())
	assert.Equal(t, 4, conv.Weights().Entities())
	assert.Equal(t, 18, conv.Weights().Length())
	assert.Equal(t, 4*18+4, conv.Parameters())

	x := randomTensor(rng, 2, in.Size())
	r := randomTensor(rng, 2, conv.OutputInfo().Size())
	loss := func() float64 {
		z, a, err := conv.Forward(x)
		require.NoError(t, err)
		defer func() { z.Free(); a.Free() }()
		return weightedSum(z, r)
	}

	wantW := numericGradient(conv.Weights(), 0.1, loss)
	dw, db, err := conv.ComputeGradient(x, r)
	require.NoError(t, err)
	assertClose(t, wantW, dw.Data(), 1e-3, "dJdw")
	assert.Equal(t, 4, db.Length())

	wantX := numericGradient(x, 0.1, loss)
	delta, err := conv.Backpropagate(x, r, tensor.Like(x), nil)
	require.NoError(t, err)
	assertClose(t, wantX, delta.Data(), 1e-3, "input delta")
}

func TestPoolingLayer(t *testing.T) {
	in := tensor.Volume(4, 4, 2)
	layer, err := nn.Pooling(backend.PoolingInfo{Size: 2, Stride: 2}, testOptions(11)...)(in)
	require.NoError(t, err)
	assert.Equal(t, tensor.Volume(2, 2, 2), layer.OutputInfo())
	assert.Equal(t, activation.Identity, layer.Activation())
	_, weighted := layer.(nn.WeightedLayer)
	assert.False(t, weighted)

	x := tensor.MustNew(1, in.Size())
	for i := range x.Data() {
		x.Data()[i] = float32(i)
	}
	z, a, err := layer.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 7, 13, 15, 21, 23, 29, 31}, z.Data())
	assert.Equal(t, z.Data(), a.Data())

	dy := tensor.Like(z)
	dy.Fill(1)
	delta, err := layer.Backpropagate(x, dy, tensor.Like(x), nil)
	require.NoError(t, err)
	var sum float32
	for _, v := range delta.Data() {
		sum += v
	}
	assert.Equal(t, float32(8), sum)
	assert.Equal(t, float32(1), delta.At(0, 5))
}

func TestBatchNormalizationLayer(t *testing.T) {
	rng := rand.New(rand.NewSource(12))
	in := tensor.Linear(3)
	l, err := nn.NewBatchNormalization(in, backend.PerActivation, activation.Identity, testOptions(12)...)
	require.NoError(t, err)
	assert.Equal(t, in, l.OutputInfo())
	assert.Equal(t, []float32{1, 1, 1}, l.Weights().Data())
	assert.Equal(t, []float32{1, 1, 1}, l.RunningVariance().Data())

	var _ nn.TrainingForwarder = l

	x1 := randomTensor(rng, 8, 3)
	x2 := randomTensor(rng, 8, 3)
	_, _, err = l.ForwardTraining(x1)
	require.NoError(t, err)
	firstMean := append([]float32(nil), l.RunningMean().Data()...)
	_, _, err = l.ForwardTraining(x2)
	require.NoError(t, err)

	for j := 0; j < 3; j++ {
		var m1, m2 float64
		for i := 0; i < 8; i++ {
			m1 += float64(x1.At(i, j))
			m2 += float64(x2.At(i, j))
		}
		assert.InDelta(t, m1/8, firstMean[j], 1e-5)
		assert.InDelta(t, (m1/8+m2/8)/2, l.RunningMean().At(0, j), 1e-5)
	}

	// Inference uses the running statistics, training the batch ones.
	zi, _, err := l.Forward(x2)
	require.NoError(t, err)
	zt, _, err := l.ForwardTraining(x2)
	require.NoError(t, err)
	assert.NotEqual(t, zi.Data(), zt.Data())

	r := randomTensor(rng, 8, 3)
	dw, db, err := l.ComputeGradient(x2, r)
	require.NoError(t, err)
	assert.Equal(t, 3, dw.Length())
	assert.Equal(t, 3, db.Length())

	c := l.Clone().(*nn.BatchNormalizationLayer)
	assert.Equal(t, l.RunningMean().Data(), c.RunningMean().Data())
	c.RunningMean().Fill(0)
	assert.NotEqual(t, l.RunningMean().Data(), c.RunningMean().Data())

	state := l.StateDict()
	assert.Len(t, state, 4)
	require.NoError(t, c.LoadStateDict(state))
	assert.Equal(t, l.RunningMean().Data(), c.RunningMean().Data())
}

func TestSpatialBatchNormalizationParameters(t *testing.T) {
	l, err := nn.NewBatchNormalization(tensor.Volume(5, 5, 3), backend.Spatial, activation.ReLU, testOptions(13)...)
	require.NoError(t, err)
	assert.Equal(t, 3, l.Weights().Length())
	assert.Equal(t, 6, l.Parameters())
}
