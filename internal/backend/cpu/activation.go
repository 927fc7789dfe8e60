package cpu

import (
	"math"

	"github.com/born-ml/graphnet/internal/activation"
	"github.com/born-ml/graphnet/internal/parallel"
	"github.com/born-ml/graphnet/internal/tensor"
)

// ActivationForward computes y = f(x) elementwise, one row per work unit.
func (cpu *CPUBackend) ActivationForward(x *tensor.Tensor, f activation.Func, y *tensor.Tensor) error {
	if !x.SameShape(y) {
		return tensor.Mismatch("activation forward", y, x)
	}
	src, dst := x.Data(), y.Data()
	length := x.Length()
	parallel.For(x.Entities(), func(i int) {
		for j := i * length; j < (i+1)*length; j++ {
			dst[j] = f(src[j])
		}
	}, cpu.cfg)
	return nil
}

// ActivationBackward computes dx = prime(z) * dy elementwise.
func (cpu *CPUBackend) ActivationBackward(z, dy *tensor.Tensor, prime activation.Func, dx *tensor.Tensor) error {
	if !z.SameShape(dy) {
		return tensor.Mismatch("activation backward", dy, z)
	}
	if !z.SameShape(dx) {
		return tensor.Mismatch("activation backward", dx, z)
	}
	zs, ds, out := z.Data(), dy.Data(), dx.Data()
	length := z.Length()
	parallel.For(z.Entities(), func(i int) {
		for j := i * length; j < (i+1)*length; j++ {
			out[j] = prime(zs[j]) * ds[j]
		}
	}, cpu.cfg)
	return nil
}

// SoftmaxForward computes softmax along every row.
//
// The row maximum is subtracted before exponentiation, which leaves the
// result unchanged and keeps exp from overflowing.
func (cpu *CPUBackend) SoftmaxForward(x, y *tensor.Tensor) error {
	if !x.SameShape(y) {
		return tensor.Mismatch("softmax forward", y, x)
	}
	parallel.For(x.Entities(), func(i int) {
		src, dst := x.Row(i), y.Row(i)

		maxVal := src[0]
		for _, v := range src[1:] {
			if v > maxVal {
				maxVal = v
			}
		}

		var sum float64
		for j, v := range src {
			e := math.Exp(float64(v - maxVal))
			dst[j] = float32(e)
			sum += e
		}

		inv := 1 / sum
		for j := range dst {
			dst[j] = float32(float64(dst[j]) * inv)
		}
	}, cpu.cfg)
	return nil
}
