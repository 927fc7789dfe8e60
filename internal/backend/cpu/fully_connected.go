package cpu

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/born-ml/graphnet/internal/parallel"
	"github.com/born-ml/graphnet/internal/tensor"
)

// general wraps t as a row-major BLAS matrix without copying.
func general(t *tensor.Tensor) blas32.General {
	return blas32.General{
		Rows:   t.Entities(),
		Cols:   t.Length(),
		Stride: t.Length(),
		Data:   t.Data(),
	}
}

// FullyConnectedForward computes y = x*w + b.
//
// Shapes:
//   - x: [N, in]
//   - w: [in, out]
//   - b: [1, out]
//   - y: [N, out]
//
// The bias is broadcast into y first, then SGEMM accumulates x*w on top.
func (cpu *CPUBackend) FullyConnectedForward(x, w, b, y *tensor.Tensor) error {
	const op = "fully connected forward"
	if x.Length() != w.Entities() {
		return tensor.Mismatchf(op, "x length %d != w entities %d", x.Length(), w.Entities())
	}
	if b.Entities() != 1 || b.Length() != w.Length() {
		return tensor.Mismatchf(op, "bias [%d, %d], want [1, %d]", b.Entities(), b.Length(), w.Length())
	}
	if y.Entities() != x.Entities() || y.Length() != w.Length() {
		return tensor.Mismatchf(op, "y [%d, %d], want [%d, %d]", y.Entities(), y.Length(), x.Entities(), w.Length())
	}

	bias := b.Data()
	parallel.For(y.Entities(), func(i int) {
		copy(y.Row(i), bias)
	}, cpu.cfg)

	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, general(x), general(w), 1, general(y))
	return nil
}

// FullyConnectedBackwardData computes dx = dy*wᵗ.
//
// Shapes: w [in, out], dy [N, out], dx [N, in].
func (cpu *CPUBackend) FullyConnectedBackwardData(w, dy, dx *tensor.Tensor) error {
	const op = "fully connected backward data"
	if dy.Length() != w.Length() {
		return tensor.Mismatchf(op, "dy length %d != w length %d", dy.Length(), w.Length())
	}
	if dx.Entities() != dy.Entities() || dx.Length() != w.Entities() {
		return tensor.Mismatchf(op, "dx [%d, %d], want [%d, %d]", dx.Entities(), dx.Length(), dy.Entities(), w.Entities())
	}

	blas32.Gemm(blas.NoTrans, blas.Trans, 1, general(dy), general(w), 0, general(dx))
	return nil
}

// FullyConnectedBackwardFilter computes dw = xᵗ*dy.
//
// Shapes: x [N, in], dy [N, out], dw [in, out].
func (cpu *CPUBackend) FullyConnectedBackwardFilter(x, dy, dw *tensor.Tensor) error {
	const op = "fully connected backward filter"
	if x.Entities() != dy.Entities() {
		return tensor.Mismatchf(op, "x entities %d != dy entities %d", x.Entities(), dy.Entities())
	}
	if dw.Entities() != x.Length() || dw.Length() != dy.Length() {
		return tensor.Mismatchf(op, "dw [%d, %d], want [%d, %d]", dw.Entities(), dw.Length(), x.Length(), dy.Length())
	}

	blas32.Gemm(blas.Trans, blas.NoTrans, 1, general(x), general(dy), 0, general(dw))
	return nil
}

// FullyConnectedBackwardBias computes db[j] = sum_i dy[i, j].
//
// Columns are independent, every work unit sums one column privately.
func (cpu *CPUBackend) FullyConnectedBackwardBias(dy, db *tensor.Tensor) error {
	if db.Entities() != 1 || db.Length() != dy.Length() {
		return tensor.Mismatchf("fully connected backward bias", "db [%d, %d], want [1, %d]", db.Entities(), db.Length(), dy.Length())
	}

	src, dst := dy.Data(), db.Data()
	n, length := dy.Entities(), dy.Length()
	parallel.For(length, func(j int) {
		var sum float32
		for i := 0; i < n; i++ {
			sum += src[i*length+j]
		}
		dst[j] = sum
	}, cpu.cfg)
	return nil
}
