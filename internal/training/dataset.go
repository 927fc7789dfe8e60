package training

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/graphnet/internal/tensor"
)

// Batch is a pair of input and expected output tensors with the same number
// of entities.
type Batch struct {
	X, Y *tensor.Tensor
}

// Size returns the number of samples of the batch.
func (b Batch) Size() int { return b.X.Entities() }

// Dataset is an in-memory list of batches.
type Dataset struct {
	batches []Batch
	samples int
}

// NewDataset splits the samples of x and y in batches of batchSize. The last
// batch holds the remaining samples. x and y are copied.
func NewDataset(x, y *tensor.Tensor, batchSize int) (*Dataset, error) {
	if x.Entities() != y.Entities() {
		return nil, tensor.Mismatchf("dataset", "%d inputs for %d outputs", x.Entities(), y.Entities())
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("dataset: invalid batch size %d", batchSize)
	}

	n := x.Entities()
	d := &Dataset{samples: n}
	for start := 0; start < n; start += batchSize {
		end := min(start+batchSize, n)
		b := Batch{
			X: tensor.MustNew(end-start, x.Length()),
			Y: tensor.MustNew(end-start, y.Length()),
		}
		for i := start; i < end; i++ {
			copy(b.X.Row(i-start), x.Row(i))
			copy(b.Y.Row(i-start), y.Row(i))
		}
		d.batches = append(d.batches, b)
	}
	return d, nil
}

// FromBatches builds a dataset over existing batches, which it takes
// ownership of.
func FromBatches(batches ...Batch) (*Dataset, error) {
	if len(batches) == 0 {
		return nil, fmt.Errorf("dataset: no batches")
	}
	d := &Dataset{}
	first := batches[0]
	for i, b := range batches {
		if b.X.Entities() != b.Y.Entities() {
			return nil, tensor.Mismatchf("dataset", "batch %d: %d inputs for %d outputs", i, b.X.Entities(), b.Y.Entities())
		}
		if b.X.Length() != first.X.Length() || b.Y.Length() != first.Y.Length() {
			return nil, tensor.Mismatchf("dataset", "batch %d: lengths [%d, %d], want [%d, %d]",
				i, b.X.Length(), b.Y.Length(), first.X.Length(), first.Y.Length())
		}
		d.samples += b.Size()
	}
	d.batches = batches
	return d, nil
}

// Count returns the number of samples.
func (d *Dataset) Count() int { return d.samples }

// Batches returns the batches of the dataset.
func (d *Dataset) Batches() []Batch { return d.batches }

// InputLength and OutputLength return the length of one sample.
func (d *Dataset) InputLength() int  { return d.batches[0].X.Length() }
func (d *Dataset) OutputLength() int { return d.batches[0].Y.Length() }

// Shuffle permutes the samples across every batch, then the batch order.
// Batch sizes are preserved.
func (d *Dataset) Shuffle(rng *rand.Rand) {
	type row struct{ batch, index int }
	rows := make([]row, 0, d.samples)
	for b := range d.batches {
		for r := 0; r < d.batches[b].Size(); r++ {
			rows = append(rows, row{b, r})
		}
	}

	for i := len(rows) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		if i == j {
			continue
		}
		bi, bj := d.batches[rows[i].batch], d.batches[rows[j].batch]
		swapRows(bi.X.Row(rows[i].index), bj.X.Row(rows[j].index))
		swapRows(bi.Y.Row(rows[i].index), bj.Y.Row(rows[j].index))
	}
	rng.Shuffle(len(d.batches), func(i, j int) {
		d.batches[i], d.batches[j] = d.batches[j], d.batches[i]
	})
}

func swapRows(a, b []float32) {
	for k := range a {
		a[k], b[k] = b[k], a[k]
	}
}

// Free releases every batch.
func (d *Dataset) Free() {
	for _, b := range d.batches {
		b.X.Free()
		b.Y.Free()
	}
	d.batches = nil
	d.samples = 0
}
