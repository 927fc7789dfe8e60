// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the batch tensors exchanged with graphnet graphs.
//
// A Tensor stores float32 values as entities × length in row-major order.
// Every entity is one sample; volumes are laid out channel by channel
// ([C][H][W]) within a row.
//
// Example:
//
//	x := tensor.MustNew(32, 784) // 32 MNIST images
//	x.Row(0)[0] = 1
//	defer x.Free()
package tensor

import (
	"github.com/born-ml/graphnet/internal/tensor"
)

// Tensor is a dense batch of float32 rows.
type Tensor = tensor.Tensor

// Info describes the shape of one sample.
type Info = tensor.Info

// ShapeError reports arguments with incompatible shapes.
type ShapeError = tensor.ShapeError

var (
	// ErrShapeMismatch is matched by errors.Is for every ShapeError.
	ErrShapeMismatch = tensor.ErrShapeMismatch
	// ErrInvalidShape is returned for non-positive dimensions.
	ErrInvalidShape = tensor.ErrInvalidShape
)

// New allocates a zeroed tensor of entities rows of length values.
func New(entities, length int) (*Tensor, error) {
	return tensor.New(entities, length)
}

// MustNew is like New but panics on invalid dimensions.
func MustNew(entities, length int) *Tensor {
	return tensor.MustNew(entities, length)
}

// From copies data into a new tensor.
func From(data []float32, entities, length int) (*Tensor, error) {
	return tensor.From(data, entities, length)
}

// Fix wraps data without copying it. The returned tensor is a view and
// Free does not release data.
func Fix(data []float32, entities, length int) (*Tensor, error) {
	return tensor.Fix(data, entities, length)
}

// Linear returns the shape of a flat vector of n values.
func Linear(n int) Info {
	return tensor.Linear(n)
}

// Volume returns the shape of a height × width × channels volume.
func Volume(height, width, channels int) Info {
	return tensor.Volume(height, width, channels)
}
