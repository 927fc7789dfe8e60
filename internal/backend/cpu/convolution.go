package cpu

import (
	"github.com/born-ml/graphnet/internal/backend"
	"github.com/born-ml/graphnet/internal/parallel"
	"github.com/born-ml/graphnet/internal/tensor"
)

// convGeometry gathers the dimensions shared by the convolution kernels.
type convGeometry struct {
	in     tensor.Info
	out    tensor.Info
	kernel backend.KernelInfo
	op     backend.ConvolutionInfo
}

func newConvGeometry(op string, in tensor.Info, kernel backend.KernelInfo, conv backend.ConvolutionInfo) (convGeometry, error) {
	out, err := conv.OutputInfo(in, kernel)
	if err != nil {
		return convGeometry{}, tensor.Mismatchf(op, "%v", err)
	}
	return convGeometry{in: in, out: out, kernel: kernel, op: conv}, nil
}

// kernelSize is the length of one kernel row of w: channels*height*width.
func (g convGeometry) kernelSize() int {
	return g.in.Channels * g.kernel.Height * g.kernel.Width
}

func (g convGeometry) checkWeights(op string, w *tensor.Tensor) error {
	if w.Entities() != g.kernel.Count || w.Length() != g.kernelSize() {
		return tensor.Mismatchf(op, "weights [%d, %d], want [%d, %d]", w.Entities(), w.Length(), g.kernel.Count, g.kernelSize())
	}
	return nil
}

// inputIndex maps an output position and a kernel offset to the input
// position inside one channel, reporting false for padded positions.
func (g convGeometry) inputIndex(oy, ox, ky, kx int) (int, bool) {
	iy := oy*g.op.VerticalStride - g.op.VerticalPadding + ky
	ix := ox*g.op.HorizontalStride - g.op.HorizontalPadding + kx
	if iy < 0 || iy >= g.in.Height || ix < 0 || ix >= g.in.Width {
		return 0, false
	}
	return iy*g.in.Width + ix, true
}

// ConvolutionForward computes the convolution of every entity with every kernel.
//
// Shapes:
//   - x: [N, C*H*W] (channel-major volumes)
//   - w: [K, C*kh*kw]
//   - b: [1, K]
//   - y: [N, K*OH*OW]
//
// Work is split over the N*K (entity, kernel) pairs.
func (cpu *CPUBackend) ConvolutionForward(in tensor.Info, x *tensor.Tensor, kernel backend.KernelInfo, op backend.ConvolutionInfo, w, b, y *tensor.Tensor) error {
	const name = "convolution forward"
	g, err := newConvGeometry(name, in, kernel, op)
	if err != nil {
		return err
	}
	if err := g.checkWeights(name, w); err != nil {
		return err
	}
	if x.Length() != in.Size() {
		return tensor.Mismatchf(name, "x length %d does not match %s", x.Length(), in)
	}
	if b.Entities() != 1 || b.Length() != kernel.Count {
		return tensor.Mismatchf(name, "bias [%d, %d], want [1, %d]", b.Entities(), b.Length(), kernel.Count)
	}
	if y.Entities() != x.Entities() || y.Length() != g.out.Size() {
		return tensor.Mismatchf(name, "y [%d, %d], want [%d, %d]", y.Entities(), y.Length(), x.Entities(), g.out.Size())
	}

	inSlice, outSlice := in.SliceSize(), g.out.SliceSize()
	kh, kw := kernel.Height, kernel.Width
	bias := b.Data()

	parallel.ForBatch(x.Entities(), kernel.Count, func(n, k int) {
		src, filter := x.Row(n), w.Row(k)
		dst := y.Row(n)[k*outSlice : (k+1)*outSlice]
		for oy := 0; oy < g.out.Height; oy++ {
			for ox := 0; ox < g.out.Width; ox++ {
				sum := bias[k]
				for c := 0; c < in.Channels; c++ {
					channel := src[c*inSlice : (c+1)*inSlice]
					weights := filter[c*kh*kw : (c+1)*kh*kw]
					for ky := 0; ky < kh; ky++ {
						for kx := 0; kx < kw; kx++ {
							if idx, ok := g.inputIndex(oy, ox, ky, kx); ok {
								sum += channel[idx] * weights[ky*kw+kx]
							}
						}
					}
				}
				dst[oy*g.out.Width+ox] = sum
			}
		}
	}, cpu.cfg)
	return nil
}

// ConvolutionBackwardData scatters dy back through the kernels into dx.
//
// Work is split over the N*C (entity, input channel) pairs so every unit
// owns one channel slice of dx.
func (cpu *CPUBackend) ConvolutionBackwardData(in tensor.Info, kernel backend.KernelInfo, op backend.ConvolutionInfo, w, dy, dx *tensor.Tensor) error {
	const name = "convolution backward data"
	g, err := newConvGeometry(name, in, kernel, op)
	if err != nil {
		return err
	}
	if err := g.checkWeights(name, w); err != nil {
		return err
	}
	if dy.Length() != g.out.Size() {
		return tensor.Mismatchf(name, "dy length %d does not match %s", dy.Length(), g.out)
	}
	if dx.Entities() != dy.Entities() || dx.Length() != in.Size() {
		return tensor.Mismatchf(name, "dx [%d, %d], want [%d, %d]", dx.Entities(), dx.Length(), dy.Entities(), in.Size())
	}

	inSlice, outSlice := in.SliceSize(), g.out.SliceSize()
	kh, kw := kernel.Height, kernel.Width

	parallel.ForBatch(dy.Entities(), in.Channels, func(n, c int) {
		dst := dx.Row(n)[c*inSlice : (c+1)*inSlice]
		clear(dst)
		grad := dy.Row(n)
		for k := 0; k < kernel.Count; k++ {
			weights := w.Row(k)[c*kh*kw : (c+1)*kh*kw]
			delta := grad[k*outSlice : (k+1)*outSlice]
			for oy := 0; oy < g.out.Height; oy++ {
				for ox := 0; ox < g.out.Width; ox++ {
					d := delta[oy*g.out.Width+ox]
					if d == 0 {
						continue
					}
					for ky := 0; ky < kh; ky++ {
						for kx := 0; kx < kw; kx++ {
							if idx, ok := g.inputIndex(oy, ox, ky, kx); ok {
								dst[idx] += d * weights[ky*kw+kx]
							}
						}
					}
				}
			}
		}
	}, cpu.cfg)
	return nil
}

// ConvolutionBackwardFilter computes dw, summed over the entities of the batch.
//
// Work is split over the K*C (kernel, input channel) pairs.
func (cpu *CPUBackend) ConvolutionBackwardFilter(in tensor.Info, x *tensor.Tensor, kernel backend.KernelInfo, op backend.ConvolutionInfo, dy, dw *tensor.Tensor) error {
	const name = "convolution backward filter"
	g, err := newConvGeometry(name, in, kernel, op)
	if err != nil {
		return err
	}
	if err := g.checkWeights(name, dw); err != nil {
		return err
	}
	if x.Length() != in.Size() {
		return tensor.Mismatchf(name, "x length %d does not match %s", x.Length(), in)
	}
	if dy.Entities() != x.Entities() || dy.Length() != g.out.Size() {
		return tensor.Mismatchf(name, "dy [%d, %d], want [%d, %d]", dy.Entities(), dy.Length(), x.Entities(), g.out.Size())
	}

	inSlice, outSlice := in.SliceSize(), g.out.SliceSize()
	kh, kw := kernel.Height, kernel.Width

	parallel.ForBatch(kernel.Count, in.Channels, func(k, c int) {
		dst := dw.Row(k)[c*kh*kw : (c+1)*kh*kw]
		for ky := 0; ky < kh; ky++ {
			for kx := 0; kx < kw; kx++ {
				var sum float32
				for n := 0; n < x.Entities(); n++ {
					channel := x.Row(n)[c*inSlice : (c+1)*inSlice]
					delta := dy.Row(n)[k*outSlice : (k+1)*outSlice]
					for oy := 0; oy < g.out.Height; oy++ {
						for ox := 0; ox < g.out.Width; ox++ {
							if idx, ok := g.inputIndex(oy, ox, ky, kx); ok {
								sum += delta[oy*g.out.Width+ox] * channel[idx]
							}
						}
					}
				}
				dst[ky*kw+kx] = sum
			}
		}
	}, cpu.cfg)
	return nil
}

// ConvolutionBackwardBias sums dy over the entities and positions of every
// output channel.
func (cpu *CPUBackend) ConvolutionBackwardBias(out tensor.Info, dy, db *tensor.Tensor) error {
	const name = "convolution backward bias"
	if dy.Length() != out.Size() {
		return tensor.Mismatchf(name, "dy length %d does not match %s", dy.Length(), out)
	}
	if db.Entities() != 1 || db.Length() != out.Channels {
		return tensor.Mismatchf(name, "db [%d, %d], want [1, %d]", db.Entities(), db.Length(), out.Channels)
	}

	slice := out.SliceSize()
	dst := db.Data()
	parallel.For(out.Channels, func(k int) {
		var sum float32
		for n := 0; n < dy.Entities(); n++ {
			for _, v := range dy.Row(n)[k*slice : (k+1)*slice] {
				sum += v
			}
		}
		dst[k] = sum
	}, cpu.cfg)
	return nil
}
