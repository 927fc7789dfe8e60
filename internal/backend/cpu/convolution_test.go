package cpu

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/graphnet/internal/backend"
	"github.com/born-ml/graphnet/internal/tensor"
)

func TestConvolutionForward_Basic(t *testing.T) {
	for name, cpu := range testBackends() {
		t.Run(name, func(t *testing.T) {
			in := tensor.Volume(3, 3, 1)
			// 1 2 3
			// 4 5 6
			// 7 8 9
			x := fromSlice(t, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}, 1, 9)
			kernel := backend.KernelInfo{Height: 2, Width: 2, Count: 1}
			// 1 0
			// 0 1
			w := fromSlice(t, []float32{1, 0, 0, 1}, 1, 4)
			b := fromSlice(t, []float32{0.5}, 1, 1)
			y := tensor.MustNew(1, 4)

			require.NoError(t, cpu.ConvolutionForward(in, x, kernel, backend.DefaultConvolution, w, b, y))
			assert.Equal(t, []float32{6.5, 8.5, 12.5, 14.5}, y.Data())
		})
	}
}

func TestConvolutionOutputInfo(t *testing.T) {
	kernel := backend.KernelInfo{Height: 3, Width: 3, Count: 8}

	out, err := backend.DefaultConvolution.OutputInfo(tensor.Volume(28, 28, 1), kernel)
	require.NoError(t, err)
	assert.Equal(t, tensor.Volume(26, 26, 8), out)

	padded := backend.ConvolutionInfo{VerticalPadding: 1, HorizontalPadding: 1, VerticalStride: 2, HorizontalStride: 2}
	out, err = padded.OutputInfo(tensor.Volume(28, 28, 1), kernel)
	require.NoError(t, err)
	assert.Equal(t, tensor.Volume(14, 14, 8), out)

	_, err = backend.DefaultConvolution.OutputInfo(tensor.Volume(2, 2, 1), kernel)
	assert.Error(t, err)
}

func TestConvolutionBackwardMatchesFiniteDifferences(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	in := tensor.Volume(5, 4, 2)
	kernel := backend.KernelInfo{Height: 3, Width: 2, Count: 3}
	op := backend.ConvolutionInfo{VerticalPadding: 1, HorizontalPadding: 0, VerticalStride: 2, HorizontalStride: 1}
	out, err := op.OutputInfo(in, kernel)
	require.NoError(t, err)

	for name, cpu := range testBackends() {
		t.Run(name, func(t *testing.T) {
			x := randomTensor(t, rng, 3, in.Size())
			w := randomTensor(t, rng, kernel.Count, in.Channels*kernel.Height*kernel.Width)
			b := randomTensor(t, rng, 1, kernel.Count)
			r := randomTensor(t, rng, 3, out.Size())
			y := tensor.MustNew(3, out.Size())

			loss := func() float64 {
				require.NoError(t, cpu.ConvolutionForward(in, x, kernel, op, w, b, y))
				return weightedSum(y, r)
			}

			dx := tensor.Like(x)
			require.NoError(t, cpu.ConvolutionBackwardData(in, kernel, op, w, r, dx))
			if diff := cmp.Diff(numericGradient(x, 0.1, loss), toFloat64(dx.Data()), approx(1e-3)); diff != "" {
				t.Errorf("dx (-numeric +analytic):\n%s", diff)
			}

			dw := tensor.Like(w)
			require.NoError(t, cpu.ConvolutionBackwardFilter(in, x, kernel, op, r, dw))
			if diff := cmp.Diff(numericGradient(w, 0.1, loss), toFloat64(dw.Data()), approx(1e-3)); diff != "" {
				t.Errorf("dw (-numeric +analytic):\n%s", diff)
			}

			db := tensor.Like(b)
			require.NoError(t, cpu.ConvolutionBackwardBias(out, r, db))
			if diff := cmp.Diff(numericGradient(b, 0.1, loss), toFloat64(db.Data()), approx(1e-3)); diff != "" {
				t.Errorf("db (-numeric +analytic):\n%s", diff)
			}
		})
	}
}

func TestConvolutionShapeErrors(t *testing.T) {
	cpu := New()
	in := tensor.Volume(4, 4, 1)
	kernel := backend.KernelInfo{Height: 3, Width: 3, Count: 2}
	x := tensor.MustNew(1, in.Size())
	w := tensor.MustNew(2, 8)
	b := tensor.MustNew(1, 2)
	y := tensor.MustNew(1, 8)

	assert.ErrorIs(t, cpu.ConvolutionForward(in, x, kernel, backend.DefaultConvolution, w, b, y), tensor.ErrShapeMismatch)
	assert.ErrorIs(t, cpu.ConvolutionBackwardBias(tensor.Volume(2, 2, 2), y, tensor.MustNew(1, 3)), tensor.ErrShapeMismatch)
}

func TestPoolingForwardAndBackward(t *testing.T) {
	for name, cpu := range testBackends() {
		t.Run(name, func(t *testing.T) {
			in := tensor.Volume(4, 4, 1)
			pool := backend.PoolingInfo{Size: 2, Stride: 2}
			x := fromSlice(t, []float32{
				1, 2, 3, 4,
				5, 6, 7, 8,
				9, 10, 11, 12,
				13, 14, 15, 16,
			}, 1, 16)
			y := tensor.MustNew(1, 4)

			require.NoError(t, cpu.PoolingForward(in, pool, x, y))
			assert.Equal(t, []float32{6, 8, 14, 16}, y.Data())

			dy := fromSlice(t, []float32{1, 2, 3, 4}, 1, 4)
			dx := tensor.Like(x)
			dx.Fill(9)
			require.NoError(t, cpu.PoolingBackward(in, pool, x, dy, dx))
			assert.Equal(t, []float32{
				0, 0, 0, 0,
				0, 1, 0, 2,
				0, 0, 0, 0,
				0, 3, 0, 4,
			}, dx.Data())
		})
	}
}

func TestPoolingBackwardMatchesFiniteDifferences(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	cpu := New()
	in := tensor.Volume(5, 5, 2)
	pool := backend.PoolingInfo{Size: 3, Stride: 2}
	out, err := pool.OutputInfo(in)
	require.NoError(t, err)

	// Distinct values 0.01 apart keep every window maximum stable under the
	// finite difference step.
	x := tensor.MustNew(2, in.Size())
	for i, p := range rng.Perm(x.Size()) {
		x.Data()[i] = float32(p) * 0.01
	}
	r := randomTensor(t, rng, 2, out.Size())
	y := tensor.MustNew(2, out.Size())
	loss := func() float64 {
		require.NoError(t, cpu.PoolingForward(in, pool, x, y))
		return weightedSum(y, r)
	}

	dx := tensor.Like(x)
	require.NoError(t, cpu.PoolingBackward(in, pool, x, r, dx))
	if diff := cmp.Diff(numericGradient(x, 1e-3, loss), toFloat64(dx.Data()), approx(1e-3)); diff != "" {
		t.Errorf("dx (-numeric +analytic):\n%s", diff)
	}
}

func BenchmarkConvolutionForward(b *testing.B) {
	in := tensor.Volume(28, 28, 1)
	kernel := backend.KernelInfo{Height: 5, Width: 5, Count: 8}
	out, _ := backend.DefaultConvolution.OutputInfo(in, kernel)
	x := tensor.MustNew(32, in.Size())
	w := tensor.MustNew(kernel.Count, 25)
	bias := tensor.MustNew(1, kernel.Count)
	y := tensor.MustNew(32, out.Size())
	cpu := New()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = cpu.ConvolutionForward(in, x, kernel, backend.DefaultConvolution, w, bias, y)
	}
}
