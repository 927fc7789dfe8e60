package tensor

import "fmt"

// Tensor is a row-major 2D buffer of float32 values.
//
// The first dimension counts entities (independent samples of a batch), the
// second one is the feature length of every entity.
//
// A tensor either owns its buffer (New, Like, From, Duplicate) or is a view
// over memory owned elsewhere (Fix, Reshape). Owned tensors are released with
// Free; views must never be freed.
//
// Example:
//
//	x, _ := tensor.New(32, 784)
//	defer x.Free()
//	row := x.Row(0) // zero-copy view of the first entity
type Tensor struct {
	data     []float32
	entities int
	length   int
	owned    bool
	freed    bool
}

// New allocates a zeroed tensor with the given shape.
func New(entities, length int) (*Tensor, error) {
	if entities <= 0 || length <= 0 {
		return nil, fmt.Errorf("invalid tensor shape [%d, %d]: %w", entities, length, ErrInvalidShape)
	}
	return &Tensor{
		data:     make([]float32, entities*length),
		entities: entities,
		length:   length,
		owned:    true,
	}, nil
}

// MustNew is like New but panics on invalid shapes.
// Used where the shape has already been validated by the caller.
func MustNew(entities, length int) *Tensor {
	t, err := New(entities, length)
	if err != nil {
		panic(err)
	}
	return t
}

// Like allocates a zeroed tensor with the same shape as t.
func Like(t *Tensor) *Tensor {
	return MustNew(t.entities, t.length)
}

// From allocates a tensor and copies data into it.
func From(data []float32, entities, length int) (*Tensor, error) {
	if len(data) != entities*length {
		return nil, &ShapeError{
			Op:      "from",
			Details: fmt.Sprintf("shape [%d, %d] requires %d elements, got %d", entities, length, entities*length, len(data)),
		}
	}
	t, err := New(entities, length)
	if err != nil {
		return nil, err
	}
	copy(t.data, data)
	return t, nil
}

// Fix creates a non-owning view over an existing buffer.
//
// The returned tensor shares data; it must not be freed.
func Fix(data []float32, entities, length int) (*Tensor, error) {
	if entities <= 0 || length <= 0 {
		return nil, fmt.Errorf("invalid tensor shape [%d, %d]: %w", entities, length, ErrInvalidShape)
	}
	if len(data) != entities*length {
		return nil, &ShapeError{
			Op:      "fix",
			Details: fmt.Sprintf("shape [%d, %d] requires %d elements, got %d", entities, length, entities*length, len(data)),
		}
	}
	return &Tensor{data: data, entities: entities, length: length}, nil
}

// Reshape returns a view over t with a different shape.
// The total number of elements must be preserved.
func (t *Tensor) Reshape(entities, length int) (*Tensor, error) {
	t.checkAlive("reshape")
	if entities*length != t.Size() {
		return nil, &ShapeError{
			Op:      "reshape",
			Details: fmt.Sprintf("[%d, %d] -> [%d, %d] changes the element count", t.entities, t.length, entities, length),
		}
	}
	return Fix(t.data, entities, length)
}

// Duplicate returns an owned deep copy of t.
func (t *Tensor) Duplicate() *Tensor {
	t.checkAlive("duplicate")
	d := Like(t)
	copy(d.data, t.data)
	return d
}

// CopyTo copies the content of t into dst, which must have the same shape.
func (t *Tensor) CopyTo(dst *Tensor) error {
	t.checkAlive("copy")
	dst.checkAlive("copy")
	if !t.SameShape(dst) {
		return mismatch("copy", t, dst)
	}
	copy(dst.data, t.data)
	return nil
}

// Free releases the buffer of an owned tensor.
//
// Freeing a view or freeing twice is a programming error and panics.
func (t *Tensor) Free() {
	if !t.owned {
		panic("tensor: free called on a non-owning view")
	}
	if t.freed {
		panic("tensor: double free")
	}
	t.freed = true
	t.data = nil
}

// Entities returns the number of rows.
func (t *Tensor) Entities() int { return t.entities }

// Length returns the number of values per row.
func (t *Tensor) Length() int { return t.length }

// Size returns entities * length.
func (t *Tensor) Size() int { return t.entities * t.length }

// Owned reports whether t owns its buffer.
func (t *Tensor) Owned() bool { return t.owned }

// Freed reports whether t has been released.
func (t *Tensor) Freed() bool { return t.freed }

// Data returns the underlying buffer.
//
// WARNING: the slice aliases the tensor memory.
func (t *Tensor) Data() []float32 {
	t.checkAlive("data")
	return t.data
}

// Row returns a zero-copy slice over row i.
func (t *Tensor) Row(i int) []float32 {
	return t.data[i*t.length : (i+1)*t.length]
}

// At returns the value at row i, column j.
func (t *Tensor) At(i, j int) float32 {
	return t.data[i*t.length+j]
}

// Set assigns the value at row i, column j.
func (t *Tensor) Set(i, j int, v float32) {
	t.data[i*t.length+j] = v
}

// Fill assigns v to every element.
func (t *Tensor) Fill(v float32) {
	for i := range t.data {
		t.data[i] = v
	}
}

// Zero clears the tensor.
func (t *Tensor) Zero() {
	clear(t.data)
}

// SameShape reports whether t and other have identical dimensions.
func (t *Tensor) SameShape(other *Tensor) bool {
	return t.entities == other.entities && t.length == other.length
}

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	kind := "owned"
	if !t.owned {
		kind = "view"
	}
	return fmt.Sprintf("Tensor[%d, %d](%s)", t.entities, t.length, kind)
}

func (t *Tensor) checkAlive(op string) {
	if t.freed {
		panic(fmt.Sprintf("tensor: %s on a freed tensor", op))
	}
}
