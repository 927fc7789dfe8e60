package cpu

import (
	"github.com/born-ml/graphnet/internal/parallel"
	"github.com/born-ml/graphnet/internal/tensor"
)

// DepthConcatenationForward writes the rows of every input side by side into y.
//
// With the channel-major entity layout, appending rows stacks the channels
// of volumes and the features of linear inputs.
func (cpu *CPUBackend) DepthConcatenationForward(inputs []*tensor.Tensor, y *tensor.Tensor) error {
	const op = "depth concatenation forward"
	if len(inputs) == 0 {
		return tensor.Mismatchf(op, "no inputs")
	}
	total := 0
	for i, in := range inputs {
		if in.Entities() != y.Entities() {
			return tensor.Mismatchf(op, "input %d has %d entities, want %d", i, in.Entities(), y.Entities())
		}
		total += in.Length()
	}
	if total != y.Length() {
		return tensor.Mismatchf(op, "inputs sum to length %d, y has %d", total, y.Length())
	}

	parallel.For(y.Entities(), func(i int) {
		dst := y.Row(i)
		offset := 0
		for _, in := range inputs {
			offset += copy(dst[offset:], in.Row(i))
		}
	}, cpu.cfg)
	return nil
}

// DepthConcatenationBackward copies the columns [offset, offset+dx.Length())
// of every row of dy into dx.
func (cpu *CPUBackend) DepthConcatenationBackward(dy *tensor.Tensor, offset int, dx *tensor.Tensor) error {
	const op = "depth concatenation backward"
	if dx.Entities() != dy.Entities() {
		return tensor.Mismatch(op, dx, dy)
	}
	if offset < 0 || offset+dx.Length() > dy.Length() {
		return tensor.Mismatchf(op, "slice [%d, %d) outside of length %d", offset, offset+dx.Length(), dy.Length())
	}

	parallel.For(dy.Entities(), func(i int) {
		copy(dx.Row(i), dy.Row(i)[offset:offset+dx.Length()])
	}, cpu.cfg)
	return nil
}

// SumForward computes the elementwise sum of inputs into y.
func (cpu *CPUBackend) SumForward(inputs []*tensor.Tensor, y *tensor.Tensor) error {
	const op = "sum forward"
	if len(inputs) == 0 {
		return tensor.Mismatchf(op, "no inputs")
	}
	for _, in := range inputs {
		if !in.SameShape(y) {
			return tensor.Mismatch(op, in, y)
		}
	}

	parallel.For(y.Entities(), func(i int) {
		rows := make([][]float32, len(inputs))
		for k, in := range inputs {
			rows[k] = in.Row(i)
		}
		dst := y.Row(i)
		for j := range dst {
			var sum float32
			for _, row := range rows {
				sum += row[j]
			}
			dst[j] = sum
		}
	}, cpu.cfg)
	return nil
}
