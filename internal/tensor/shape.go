package tensor

import "fmt"

// Info describes the logical volume of a single entity: height, width and
// channels. Linear (flat) data uses Height == 1 and Channels == 1.
//
// Entities are stored channel-major: [channels][height][width].
type Info struct {
	Height   int
	Width    int
	Channels int
}

// Linear returns the Info of a flat vector with n values.
func Linear(n int) Info {
	return Info{Height: 1, Width: n, Channels: 1}
}

// Volume returns the Info of a 3D volume.
func Volume(height, width, channels int) Info {
	return Info{Height: height, Width: width, Channels: channels}
}

// Size returns the number of values of one entity.
func (i Info) Size() int {
	return i.Height * i.Width * i.Channels
}

// SliceSize returns the number of values in one channel.
func (i Info) SliceSize() int {
	return i.Height * i.Width
}

// IsLinear reports whether the info describes a flat vector.
func (i Info) IsLinear() bool {
	return i.Height == 1 && i.Channels == 1
}

// Validate checks that all dimensions are positive.
func (i Info) Validate() error {
	if i.Height <= 0 || i.Width <= 0 || i.Channels <= 0 {
		return fmt.Errorf("info %v: %w", i, ErrInvalidShape)
	}
	return nil
}

// String implements fmt.Stringer.
func (i Info) String() string {
	if i.IsLinear() {
		return fmt.Sprintf("[%d]", i.Width)
	}
	return fmt.Sprintf("[%dx%dx%d]", i.Height, i.Width, i.Channels)
}
