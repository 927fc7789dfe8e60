package nn_test

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"

	"github.com/born-ml/graphnet/internal/activation"
	"github.com/born-ml/graphnet/internal/backend"
	"github.com/born-ml/graphnet/internal/backend/cpu"
	"github.com/born-ml/graphnet/internal/cost"
	"github.com/born-ml/graphnet/internal/nn"
	"github.com/born-ml/graphnet/internal/parallel"
	"github.com/born-ml/graphnet/internal/tensor"
)

func testOptions(seed int64) []nn.Option {
	return []nn.Option{
		nn.WithBackend(cpu.NewWithConfig(parallel.Sequential())),
		nn.WithRand(rand.New(rand.NewSource(seed))),
	}
}

func randomTensor(rng *rand.Rand, entities, length int) *tensor.Tensor {
	x := tensor.MustNew(entities, length)
	for i := range x.Data() {
		x.Data()[i] = float32(rng.Float64()*2 - 1)
	}
	return x
}

// numericGradient estimates d loss / d x with central differences,
// perturbing x in place.
func numericGradient(x *tensor.Tensor, step float64, loss func() float64) []float64 {
	data := x.Data()
	x0 := make([]float64, len(data))
	for i, v := range data {
		x0[i] = float64(v)
	}
	grad := fd.Gradient(nil, func(v []float64) float64 {
		for i := range v {
			data[i] = float32(v[i])
		}
		return loss()
	}, x0, &fd.Settings{Formula: fd.Central, Step: step})
	for i := range data {
		data[i] = float32(x0[i])
	}
	return grad
}

func weightedSum(y, r *tensor.Tensor) float64 {
	var sum float64
	for i, v := range y.Data() {
		sum += float64(v) * float64(r.Data()[i])
	}
	return sum
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func assertClose(t *testing.T, want []float64, got []float32, tol float64, what string) {
	t.Helper()
	if diff := cmp.Diff(want, toFloat64(got), cmpopts.EquateApprox(0, tol)); diff != "" {
		t.Errorf("%s (-numeric +analytic):\n%s", what, diff)
	}
}

func TestFullyConnectedForward(t *testing.T) {
	l, err := nn.NewFullyConnected(tensor.Linear(2), 3, activation.ReLU, testOptions(1)...)
	require.NoError(t, err)
	assert.Equal(t, tensor.Linear(3), l.OutputInfo())
	assert.Equal(t, 9, l.Parameters())

	w, _ := tensor.From([]float32{1, -1, 2, 0, 1, -3}, 2, 3)
	b, _ := tensor.From([]float32{0, 0, 1}, 1, 3)
	require.NoError(t, l.LoadStateDict(map[string]*tensor.Tensor{nn.KeyWeights: w, nn.KeyBiases: b}))

	x, _ := tensor.From([]float32{1, 1}, 1, 2)
	z, a, err := l.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, z.Data())
	assert.Equal(t, []float32{1, 0, 0}, a.Data())
	assert.NotSame(t, z, a)

	_, _, err = l.Forward(tensor.MustNew(1, 5))
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

// The parent of the layer is a sigmoid layer with activity zp; the loss is a
// fixed linear function of the layer activity.
func TestFullyConnectedBackpropagateMatchesFiniteDifferences(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	l, err := nn.NewFullyConnected(tensor.Linear(4), 3, activation.Tanh, testOptions(2)...)
	require.NoError(t, err)
	f, prime, _ := activation.Functions(activation.Sigmoid)

	zp := randomTensor(rng, 5, 4)
	r := randomTensor(rng, 5, 3)
	be := cpu.NewWithConfig(parallel.Sequential())

	parentActivation := func() *tensor.Tensor {
		x := tensor.Like(zp)
		require.NoError(t, be.ActivationForward(zp, f, x))
		return x
	}
	loss := func() float64 {
		x := parentActivation()
		z, a, err := l.Forward(x)
		require.NoError(t, err)
		defer func() { x.Free(); z.Free(); a.Free() }()
		return weightedSum(z, r)
	}

	want := numericGradient(zp, 1e-2, loss)
	x := parentActivation()
	delta, err := l.Backpropagate(x, r, zp.Duplicate(), prime)
	require.NoError(t, err)
	assertClose(t, want, delta.Data(), 2e-3, "parent delta")

	wantW := numericGradient(l.Weights(), 1e-2, loss)
	wantB := numericGradient(l.Biases(), 1e-2, loss)
	dw, db, err := l.ComputeGradient(x, r)
	require.NoError(t, err)
	assertClose(t, wantW, dw.Data(), 2e-3, "dJdw")
	assertClose(t, wantB, db.Data(), 2e-3, "dJdb")
}

func TestBackpropagateConsumesZ(t *testing.T) {
	l, err := nn.NewFullyConnected(tensor.Linear(3), 2, activation.Sigmoid, testOptions(3)...)
	require.NoError(t, err)
	z := tensor.MustNew(4, 3)
	dy := tensor.MustNew(4, 2)

	got, err := l.Backpropagate(nil, dy, z, nil)
	require.NoError(t, err)
	assert.Same(t, z, got)
}

func TestOutputDeltaMatchesFiniteDifferences(t *testing.T) {
	tests := []struct {
		name string
		act  activation.Kind
		cost cost.Kind
	}{
		{"sigmoid/crossentropy", activation.Sigmoid, cost.CrossEntropy},
		{"softmax/loglikelihood", activation.Softmax, cost.LogLikelihood},
		{"tanh/quadratic", activation.Tanh, cost.Quadratic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(4))
			l, err := nn.NewOutput(tensor.Linear(3), 4, tt.act, tt.cost, testOptions(4)...)
			require.NoError(t, err)

			const n = 3
			x := randomTensor(rng, n, 3)
			y := tensor.MustNew(n, 4)
			for i := 0; i < n; i++ {
				if tt.act == activation.Softmax {
					y.Set(i, rng.Intn(4), 1)
					continue
				}
				for j := 0; j < 4; j++ {
					y.Set(i, j, float32(rng.Float64()))
				}
			}

			z, yHat, err := l.Forward(x)
			require.NoError(t, err)

			// The delta is not averaged over the batch: compare with the
			// gradient of n * cost.
			activate := func(z *tensor.Tensor) *tensor.Tensor {
				a := tensor.Like(z)
				be := cpu.NewWithConfig(parallel.Sequential())
				if tt.act == activation.Softmax {
					require.NoError(t, be.SoftmaxForward(z, a))
				} else {
					f, _, _ := activation.Functions(tt.act)
					require.NoError(t, be.ActivationForward(z, f, a))
				}
				return a
			}
			loss := func() float64 {
				a := activate(z)
				defer a.Free()
				c, err := l.Evaluate(a, y)
				require.NoError(t, err)
				return float64(c) * n
			}
			want := numericGradient(z, 1e-3, loss)

			delta, dw, db, err := l.BackpropagateOutput(x, yHat, y, z)
			require.NoError(t, err)
			assertClose(t, want, delta.Data(), 5e-3, "output delta")
			assert.Equal(t, l.Weights().Entities(), dw.Entities())
			assert.Equal(t, 4, db.Length())
		})
	}
}

func TestOutputConfigurationErrors(t *testing.T) {
	in := tensor.Linear(4)
	tests := []struct {
		name string
		act  activation.Kind
		cost cost.Kind
	}{
		{"softmax with quadratic", activation.Softmax, cost.Quadratic},
		{"softmax with crossentropy", activation.Softmax, cost.CrossEntropy},
		{"loglikelihood without softmax", activation.Sigmoid, cost.LogLikelihood},
		{"crossentropy with relu", activation.ReLU, cost.CrossEntropy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := nn.NewOutput(in, 2, tt.act, tt.cost)
			require.Error(t, err)
			assert.ErrorIs(t, err, nn.ErrConfiguration)

			var cfgErr *nn.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, "output", cfgErr.Layer)
		})
	}

	_, err := nn.NewOutput(in, 0, activation.Sigmoid, cost.Quadratic)
	assert.ErrorIs(t, err, nn.ErrConfiguration)
}

func TestHiddenLayerConfigurationErrors(t *testing.T) {
	_, err := nn.NewFullyConnected(tensor.Linear(4), 3, activation.Softmax)
	assert.ErrorIs(t, err, nn.ErrConfiguration)

	_, err = nn.NewFullyConnected(tensor.Info{}, 3, activation.ReLU)
	assert.ErrorIs(t, err, nn.ErrConfiguration)

	_, err = nn.NewConvolutional(tensor.Volume(2, 2, 1), backend.KernelInfo{Height: 3, Width: 3, Count: 1}, backend.DefaultConvolution, activation.ReLU)
	assert.ErrorIs(t, err, nn.ErrConfiguration)

	_, err = nn.NewPooling(tensor.Volume(4, 4, 1), backend.PoolingInfo{Size: 0, Stride: 1})
	assert.ErrorIs(t, err, nn.ErrConfiguration)

	_, err = nn.NewBatchNormalization(tensor.Linear(4), backend.PerActivation, activation.Softmax)
	assert.ErrorIs(t, err, nn.ErrConfiguration)
}

func TestSoftmaxFactory(t *testing.T) {
	layer, err := nn.Softmax(10)(tensor.Linear(30))
	require.NoError(t, err)

	out, ok := layer.(nn.CostLayer)
	require.True(t, ok)
	assert.Equal(t, cost.LogLikelihood, out.Cost())
	assert.Equal(t, activation.Softmax, out.Activation())

	x := randomTensor(rand.New(rand.NewSource(5)), 2, 30)
	_, a, err := out.Forward(x)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		var sum float32
		for _, v := range a.Row(i) {
			sum += v
		}
		assert.InDelta(t, 1, sum, 1e-6)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	l, err := nn.NewFullyConnected(tensor.Linear(3), 2, activation.Sigmoid, testOptions(6)...)
	require.NoError(t, err)

	c := l.Clone().(*nn.FullyConnectedLayer)
	assert.Equal(t, l.Weights().Data(), c.Weights().Data())

	c.Weights().Fill(0)
	assert.NotEqual(t, l.Weights().Data(), c.Weights().Data())
	assert.Equal(t, l.InputInfo(), c.InputInfo())
}

func TestStateDict(t *testing.T) {
	l, err := nn.NewFullyConnected(tensor.Linear(3), 2, activation.Sigmoid, testOptions(7)...)
	require.NoError(t, err)

	state := l.StateDict()
	require.Contains(t, state, nn.KeyWeights)
	require.Contains(t, state, nn.KeyBiases)
	assert.NotSame(t, l.Weights(), state[nn.KeyWeights])

	other, err := nn.NewFullyConnected(tensor.Linear(3), 2, activation.Sigmoid, testOptions(8)...)
	require.NoError(t, err)
	require.NoError(t, other.LoadStateDict(state))
	assert.Equal(t, l.Weights().Data(), other.Weights().Data())

	before := append([]float32(nil), other.Weights().Data()...)
	err = other.LoadStateDict(map[string]*tensor.Tensor{nn.KeyWeights: tensor.MustNew(2, 3), nn.KeyBiases: tensor.MustNew(1, 2)})
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
	assert.Equal(t, before, other.Weights().Data(), "failed load must not write")

	err = other.LoadStateDict(map[string]*tensor.Tensor{nn.KeyWeights: tensor.MustNew(3, 2)})
	assert.Error(t, err)
}

func TestInitialization(t *testing.T) {
	for _, init := range []nn.Initialization{nn.GlorotUniform, nn.HeNormal, nn.LeCunNormal} {
		t.Run(init.String(), func(t *testing.T) {
			opts := append(testOptions(9), nn.WithInitialization(init))
			l, err := nn.NewFullyConnected(tensor.Linear(100), 50, activation.ReLU, opts...)
			require.NoError(t, err)

			var sum, sq float64
			for _, v := range l.Weights().Data() {
				sum += float64(v)
				sq += float64(v) * float64(v)
			}
			n := float64(l.Weights().Size())
			variance := sq/n - (sum/n)*(sum/n)

			want := map[nn.Initialization]float64{
				nn.GlorotUniform: 2.0 / 150, // bound²/3 with bound = sqrt(6/150)
				nn.HeNormal:      2.0 / 100,
				nn.LeCunNormal:   1.0 / 100,
			}[init]
			assert.InEpsilon(t, want, variance, 0.1)
			for _, v := range l.Biases().Data() {
				assert.Zero(t, v)
			}
		})
	}
}

func TestUnknownInitialization(t *testing.T) {
	opts := append(testOptions(1), nn.WithInitialization(nn.Initialization(42)))

	_, err := nn.NewFullyConnected(tensor.Linear(4), 2, activation.Sigmoid, opts...)
	assert.ErrorIs(t, err, nn.ErrConfiguration)
	assert.ErrorContains(t, err, "initialization(42)")

	_, err = nn.NewOutput(tensor.Linear(4), 2, activation.Sigmoid, cost.CrossEntropy, opts...)
	assert.ErrorIs(t, err, nn.ErrConfiguration)

	_, err = nn.NewConvolutional(tensor.Volume(4, 4, 1), backend.KernelInfo{Height: 2, Width: 2, Count: 1},
		backend.DefaultConvolution, activation.ReLU, opts...)
	assert.ErrorIs(t, err, nn.ErrConfiguration)
}

func TestOutputParallelFromBackend(t *testing.T) {
	cfg := parallel.Config{Enabled: true, NumWorkers: 3, MinChunkSize: 2}
	l, err := nn.NewOutput(tensor.Linear(4), 2, activation.Sigmoid, cost.CrossEntropy,
		nn.WithBackend(cpu.NewWithConfig(cfg)), nn.WithRand(rand.New(rand.NewSource(1))))
	require.NoError(t, err)
	assert.Equal(t, cfg, l.Parallel())

	l, err = nn.NewOutput(tensor.Linear(4), 2, activation.Softmax, cost.LogLikelihood, testOptions(2)...)
	require.NoError(t, err)
	assert.Equal(t, parallel.Sequential(), l.Parallel())
}
