package cpu

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"

	"github.com/born-ml/graphnet/internal/activation"
	"github.com/born-ml/graphnet/internal/parallel"
	"github.com/born-ml/graphnet/internal/tensor"
)

// testBackends returns a sequential and a parallel backend; kernels must
// produce identical results with both.
func testBackends() map[string]*CPUBackend {
	return map[string]*CPUBackend{
		"sequential": NewWithConfig(parallel.Sequential()),
		"parallel":   NewWithConfig(parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 1}),
	}
}

func randomTensor(t *testing.T, rng *rand.Rand, entities, length int) *tensor.Tensor {
	t.Helper()
	x, err := tensor.New(entities, length)
	require.NoError(t, err)
	for i := range x.Data() {
		x.Data()[i] = float32(rng.Float64()*2 - 1)
	}
	return x
}

func fromSlice(t *testing.T, data []float32, entities, length int) *tensor.Tensor {
	t.Helper()
	x, err := tensor.From(data, entities, length)
	require.NoError(t, err)
	return x
}

// numericGradient estimates d loss / d x with central differences, x being
// perturbed in place.
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

// weightedSum returns sum(y * r), a scalar loss whose gradient with respect
// to y is r.
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

// approx compares float64 values with an absolute tolerance.
func approx(tol float64) cmp.Option {
	return cmpopts.EquateApprox(0, tol)
}

func TestCPUBackend_Name(t *testing.T) {
	assert.Equal(t, "cpu", New().Name())
}

func TestActivationBackwardReproducesDerivative(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for name, cpu := range testBackends() {
		t.Run(name, func(t *testing.T) {
			for _, k := range []activation.Kind{activation.Sigmoid, activation.Tanh, activation.ReLU, activation.ELU} {
				f, prime, err := activation.Functions(k)
				require.NoError(t, err)

				x := randomTensor(t, rng, 5, 7)
				y := tensor.Like(x)
				require.NoError(t, cpu.ActivationForward(x, f, y))
				for i, v := range x.Data() {
					assert.Equal(t, f(v), y.Data()[i])
				}

				ones := tensor.Like(x)
				ones.Fill(1)
				dx := tensor.Like(x)
				require.NoError(t, cpu.ActivationBackward(x, ones, prime, dx))
				for i, v := range x.Data() {
					assert.Equal(t, prime(v), dx.Data()[i], "%s'(%v)", k, v)
				}
			}
		})
	}
}

func TestActivationForwardInPlace(t *testing.T) {
	cpu := New()
	x := fromSlice(t, []float32{-1, 0, 2}, 1, 3)
	f, _, err := activation.Functions(activation.ReLU)
	require.NoError(t, err)

	require.NoError(t, cpu.ActivationForward(x, f, x))
	assert.Equal(t, []float32{0, 0, 2}, x.Data())
}

func TestActivationShapeMismatch(t *testing.T) {
	cpu := New()
	f, prime, _ := activation.Functions(activation.Sigmoid)
	x, y := tensor.MustNew(2, 3), tensor.MustNew(3, 2)
	y.Fill(7)

	assert.ErrorIs(t, cpu.ActivationForward(x, f, y), tensor.ErrShapeMismatch)
	assert.ErrorIs(t, cpu.ActivationBackward(x, x, prime, y), tensor.ErrShapeMismatch)
	for _, v := range y.Data() {
		assert.Equal(t, float32(7), v, "output touched on error")
	}
}

func TestSoftmaxForward(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for name, cpu := range testBackends() {
		t.Run(name, func(t *testing.T) {
			x := randomTensor(t, rng, 6, 10)
			for i := range x.Data() {
				x.Data()[i] *= 20
			}
			y := tensor.Like(x)
			require.NoError(t, cpu.SoftmaxForward(x, y))

			for i := 0; i < y.Entities(); i++ {
				var sum float64
				for _, v := range y.Row(i) {
					assert.GreaterOrEqual(t, v, float32(0))
					sum += float64(v)
				}
				assert.InDelta(t, 1.0, sum, 1e-6)
			}

			shifted := x.Duplicate()
			for i := range shifted.Data() {
				shifted.Data()[i] += 3.5
			}
			ys := tensor.Like(x)
			require.NoError(t, cpu.SoftmaxForward(shifted, ys))
			if diff := cmp.Diff(toFloat64(y.Data()), toFloat64(ys.Data()), approx(1e-6)); diff != "" {
				t.Errorf("softmax not shift invariant (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSoftmaxLargeInputs(t *testing.T) {
	x := fromSlice(t, []float32{1000, 1000, -1000}, 1, 3)
	require.NoError(t, New().SoftmaxForward(x, x))
	assert.InDeltaSlice(t, []float32{0.5, 0.5, 0}, x.Data(), 1e-6)
}
