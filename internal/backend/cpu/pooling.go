package cpu

import (
	"github.com/born-ml/graphnet/internal/backend"
	"github.com/born-ml/graphnet/internal/parallel"
	"github.com/born-ml/graphnet/internal/tensor"
)

func checkPooling(op string, in tensor.Info, pool backend.PoolingInfo, x *tensor.Tensor) (tensor.Info, error) {
	out, err := pool.OutputInfo(in)
	if err != nil {
		return tensor.Info{}, tensor.Mismatchf(op, "%v", err)
	}
	if x.Length() != in.Size() {
		return tensor.Info{}, tensor.Mismatchf(op, "x length %d does not match %s", x.Length(), in)
	}
	return out, nil
}

// windowArgmax returns the index (inside one channel) of the largest value of
// the pooling window whose top-left output position is (oy, ox).
// Ties keep the first position in row-major order.
func windowArgmax(channel []float32, width int, pool backend.PoolingInfo, oy, ox int) int {
	y0, x0 := oy*pool.Stride, ox*pool.Stride
	best := y0*width + x0
	for dy := 0; dy < pool.Size; dy++ {
		for dx := 0; dx < pool.Size; dx++ {
			idx := (y0+dy)*width + x0 + dx
			if channel[idx] > channel[best] {
				best = idx
			}
		}
	}
	return best
}

// PoolingForward applies max pooling to every channel.
//
// Input shape:  [N, C*H*W]
// Output shape: [N, C*OH*OW] with OH = (H-size)/stride + 1.
//
// Work is split over the N*C (entity, channel) pairs.
func (cpu *CPUBackend) PoolingForward(in tensor.Info, pool backend.PoolingInfo, x, y *tensor.Tensor) error {
	const op = "pooling forward"
	out, err := checkPooling(op, in, pool, x)
	if err != nil {
		return err
	}
	if y.Entities() != x.Entities() || y.Length() != out.Size() {
		return tensor.Mismatchf(op, "y [%d, %d], want [%d, %d]", y.Entities(), y.Length(), x.Entities(), out.Size())
	}

	inSlice, outSlice := in.SliceSize(), out.SliceSize()
	parallel.ForBatch(x.Entities(), in.Channels, func(n, c int) {
		channel := x.Row(n)[c*inSlice : (c+1)*inSlice]
		dst := y.Row(n)[c*outSlice : (c+1)*outSlice]
		for oy := 0; oy < out.Height; oy++ {
			for ox := 0; ox < out.Width; ox++ {
				dst[oy*out.Width+ox] = channel[windowArgmax(channel, in.Width, pool, oy, ox)]
			}
		}
	}, cpu.cfg)
	return nil
}

// PoolingBackward routes every value of dy to the input position that won
// the corresponding window in the forward pass; other positions get zero.
// Overlapping windows accumulate.
func (cpu *CPUBackend) PoolingBackward(in tensor.Info, pool backend.PoolingInfo, x, dy, dx *tensor.Tensor) error {
	const op = "pooling backward"
	out, err := checkPooling(op, in, pool, x)
	if err != nil {
		return err
	}
	if dy.Entities() != x.Entities() || dy.Length() != out.Size() {
		return tensor.Mismatchf(op, "dy [%d, %d], want [%d, %d]", dy.Entities(), dy.Length(), x.Entities(), out.Size())
	}
	if !x.SameShape(dx) {
		return tensor.Mismatch(op, dx, x)
	}

	inSlice, outSlice := in.SliceSize(), out.SliceSize()
	parallel.ForBatch(x.Entities(), in.Channels, func(n, c int) {
		channel := x.Row(n)[c*inSlice : (c+1)*inSlice]
		delta := dy.Row(n)[c*outSlice : (c+1)*outSlice]
		dst := dx.Row(n)[c*inSlice : (c+1)*inSlice]
		clear(dst)
		for oy := 0; oy < out.Height; oy++ {
			for ox := 0; ox < out.Width; ox++ {
				dst[windowArgmax(channel, in.Width, pool, oy, ox)] += delta[oy*out.Width+ox]
			}
		}
	}, cpu.cfg)
	return nil
}
