package cpu

import (
	"math"

	"github.com/born-ml/graphnet/internal/backend"
	"github.com/born-ml/graphnet/internal/parallel"
	"github.com/born-ml/graphnet/internal/tensor"
)

// Epsilon is added to the variance before taking its square root.
// It is the float32 machine epsilon.
const Epsilon = 1.1920929e-7

// normGroups returns the number of statistic groups and the number of
// contiguous columns of a row that belong to one group.
//
// PerActivation: one group per column. Spatial: one group per channel,
// spanning the height*width positions of that channel.
func normGroups(mode backend.NormalizationMode, in tensor.Info) (count, span int) {
	if mode == backend.Spatial {
		return in.Channels, in.SliceSize()
	}
	return in.Size(), 1
}

func checkNorm(op string, mode backend.NormalizationMode, in tensor.Info, x *tensor.Tensor, params ...*tensor.Tensor) error {
	if x.Length() != in.Size() {
		return tensor.Mismatchf(op, "x length %d does not match %s", x.Length(), in)
	}
	size := mode.ParameterSize(in)
	for _, p := range params {
		if p.Entities() != 1 || p.Length() != size {
			return tensor.Mismatchf(op, "parameter [%d, %d], want [1, %d] (%s)", p.Entities(), p.Length(), size, mode)
		}
	}
	return nil
}

// groupElements calls f with the flat index of every element of group g.
func groupElements(n, length, g, span int, f func(k int)) {
	base := g * span
	for i := 0; i < n; i++ {
		row := i*length + base
		for s := 0; s < span; s++ {
			f(row + s)
		}
	}
}

// BatchNormalizationForward normalizes x with the statistics of the batch.
//
// The (biased) batch mean and variance of every group are written into mu
// and sigma2, which the backward kernels expect unchanged. y may alias x.
func (cpu *CPUBackend) BatchNormalizationForward(mode backend.NormalizationMode, in tensor.Info, x, mu, sigma2, gamma, beta, y *tensor.Tensor) error {
	const op = "batch normalization forward"
	if err := checkNorm(op, mode, in, x, mu, sigma2, gamma, beta); err != nil {
		return err
	}
	if !x.SameShape(y) {
		return tensor.Mismatch(op, y, x)
	}

	src, dst := x.Data(), y.Data()
	m, v, g, b := mu.Data(), sigma2.Data(), gamma.Data(), beta.Data()
	n, length := x.Entities(), x.Length()
	groups, span := normGroups(mode, in)
	count := float64(n * span)

	parallel.For(groups, func(k int) {
		var sum float64
		groupElements(n, length, k, span, func(idx int) { sum += float64(src[idx]) })
		mean := sum / count

		var sq float64
		groupElements(n, length, k, span, func(idx int) {
			d := float64(src[idx]) - mean
			sq += d * d
		})
		variance := sq / count

		m[k], v[k] = float32(mean), float32(variance)
		scale := float64(g[k]) / math.Sqrt(variance+Epsilon)
		shift := float64(b[k])
		groupElements(n, length, k, span, func(idx int) {
			dst[idx] = float32((float64(src[idx])-mean)*scale + shift)
		})
	}, cpu.cfg)
	return nil
}

// BatchNormalizationInference normalizes x with precomputed statistics,
// typically the running averages collected during training. y may alias x.
func (cpu *CPUBackend) BatchNormalizationInference(mode backend.NormalizationMode, in tensor.Info, x, mu, sigma2, gamma, beta, y *tensor.Tensor) error {
	const op = "batch normalization inference"
	if err := checkNorm(op, mode, in, x, mu, sigma2, gamma, beta); err != nil {
		return err
	}
	if !x.SameShape(y) {
		return tensor.Mismatch(op, y, x)
	}

	src, dst := x.Data(), y.Data()
	m, v, g, b := mu.Data(), sigma2.Data(), gamma.Data(), beta.Data()
	n, length := x.Entities(), x.Length()
	groups, span := normGroups(mode, in)

	parallel.For(groups, func(k int) {
		mean := float64(m[k])
		scale := float64(g[k]) / math.Sqrt(float64(v[k])+Epsilon)
		shift := float64(b[k])
		groupElements(n, length, k, span, func(idx int) {
			dst[idx] = float32((float64(src[idx])-mean)*scale + shift)
		})
	}, cpu.cfg)
	return nil
}

// BatchNormalizationBackwardData computes the input gradient:
//
//	dx = gamma / (m*sqrt(var+eps)) * (m*dy - sum(dy) - xhat*sum(dy*xhat))
//
// where m is the number of elements of the group and xhat the normalized input.
func (cpu *CPUBackend) BatchNormalizationBackwardData(mode backend.NormalizationMode, in tensor.Info, x, mu, sigma2, gamma, dy, dx *tensor.Tensor) error {
	const op = "batch normalization backward data"
	if err := checkNorm(op, mode, in, x, mu, sigma2, gamma); err != nil {
		return err
	}
	if !x.SameShape(dy) {
		return tensor.Mismatch(op, dy, x)
	}
	if !x.SameShape(dx) {
		return tensor.Mismatch(op, dx, x)
	}

	src, grad, out := x.Data(), dy.Data(), dx.Data()
	m, v, g := mu.Data(), sigma2.Data(), gamma.Data()
	n, length := x.Entities(), x.Length()
	groups, span := normGroups(mode, in)
	count := float64(n * span)

	parallel.For(groups, func(k int) {
		mean := float64(m[k])
		inv := 1 / math.Sqrt(float64(v[k])+Epsilon)

		var sumDy, sumDyXhat float64
		groupElements(n, length, k, span, func(idx int) {
			d := float64(grad[idx])
			sumDy += d
			sumDyXhat += d * (float64(src[idx]) - mean) * inv
		})

		scale := float64(g[k]) * inv / count
		groupElements(n, length, k, span, func(idx int) {
			xhat := (float64(src[idx]) - mean) * inv
			out[idx] = float32(scale * (count*float64(grad[idx]) - sumDy - xhat*sumDyXhat))
		})
	}, cpu.cfg)
	return nil
}

// BatchNormalizationBackwardGamma computes dgamma = sum(dy*xhat) per group.
func (cpu *CPUBackend) BatchNormalizationBackwardGamma(mode backend.NormalizationMode, in tensor.Info, x, mu, sigma2, dy, dgamma *tensor.Tensor) error {
	const op = "batch normalization backward gamma"
	if err := checkNorm(op, mode, in, x, mu, sigma2, dgamma); err != nil {
		return err
	}
	if !x.SameShape(dy) {
		return tensor.Mismatch(op, dy, x)
	}

	src, grad := x.Data(), dy.Data()
	m, v, out := mu.Data(), sigma2.Data(), dgamma.Data()
	n, length := x.Entities(), x.Length()
	groups, span := normGroups(mode, in)

	parallel.For(groups, func(k int) {
		mean := float64(m[k])
		inv := 1 / math.Sqrt(float64(v[k])+Epsilon)
		var sum float64
		groupElements(n, length, k, span, func(idx int) {
			sum += float64(grad[idx]) * (float64(src[idx]) - mean) * inv
		})
		out[k] = float32(sum)
	}, cpu.cfg)
	return nil
}

// BatchNormalizationBackwardBeta computes dbeta = sum(dy) per group.
func (cpu *CPUBackend) BatchNormalizationBackwardBeta(mode backend.NormalizationMode, in tensor.Info, dy, dbeta *tensor.Tensor) error {
	if err := checkNorm("batch normalization backward beta", mode, in, dy, dbeta); err != nil {
		return err
	}

	grad, out := dy.Data(), dbeta.Data()
	n, length := dy.Entities(), dy.Length()
	groups, span := normGroups(mode, in)

	parallel.For(groups, func(k int) {
		var sum float64
		groupElements(n, length, k, span, func(idx int) { sum += float64(grad[idx]) })
		out[k] = float32(sum)
	}, cpu.cfg)
	return nil
}
