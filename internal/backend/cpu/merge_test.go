package cpu

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/graphnet/internal/tensor"
)

func TestDepthConcatenationRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	for name, cpu := range testBackends() {
		t.Run(name, func(t *testing.T) {
			inputs := []*tensor.Tensor{
				randomTensor(t, rng, 3, 2),
				randomTensor(t, rng, 3, 5),
				randomTensor(t, rng, 3, 1),
			}
			y := tensor.MustNew(3, 8)
			require.NoError(t, cpu.DepthConcatenationForward(inputs, y))

			assert.Equal(t, inputs[1].Row(2), y.Row(2)[2:7])

			offset := 0
			for _, in := range inputs {
				dx := tensor.Like(in)
				require.NoError(t, cpu.DepthConcatenationBackward(y, offset, dx))
				assert.Equal(t, in.Data(), dx.Data())
				offset += in.Length()
			}
		})
	}
}

func TestDepthConcatenationShapeErrors(t *testing.T) {
	cpu := New()
	a, b := tensor.MustNew(2, 3), tensor.MustNew(3, 3)

	assert.ErrorIs(t, cpu.DepthConcatenationForward([]*tensor.Tensor{a, b}, tensor.MustNew(2, 6)), tensor.ErrShapeMismatch)
	assert.ErrorIs(t, cpu.DepthConcatenationForward([]*tensor.Tensor{a, a}, tensor.MustNew(2, 5)), tensor.ErrShapeMismatch)
	assert.ErrorIs(t, cpu.DepthConcatenationBackward(tensor.MustNew(2, 6), 4, a), tensor.ErrShapeMismatch)
}

func TestSumForward(t *testing.T) {
	for name, cpu := range testBackends() {
		t.Run(name, func(t *testing.T) {
			a := fromSlice(t, []float32{1, 2, 3}, 1, 3)
			b := fromSlice(t, []float32{4, 5, 6}, 1, 3)
			y := tensor.MustNew(1, 3)

			require.NoError(t, cpu.SumForward([]*tensor.Tensor{a, b}, y))
			assert.Equal(t, []float32{5, 7, 9}, y.Data())

			require.NoError(t, cpu.SumForward([]*tensor.Tensor{a, b}, a))
			assert.Equal(t, []float32{5, 7, 9}, a.Data())
		})
	}

	err := New().SumForward([]*tensor.Tensor{tensor.MustNew(1, 3), tensor.MustNew(1, 4)}, tensor.MustNew(1, 3))
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
}
