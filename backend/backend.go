// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package backend exposes the primitive contract implemented by compute
// backends and the descriptors of convolution, pooling and normalization.
package backend

import (
	"github.com/born-ml/graphnet/internal/backend"
)

// Backend executes the numeric primitives of the layers.
type Backend = backend.Backend

// KernelInfo describes a bank of convolution kernels.
type KernelInfo = backend.KernelInfo

// ConvolutionInfo holds the padding and stride of a convolution.
type ConvolutionInfo = backend.ConvolutionInfo

// PoolingInfo describes a max pooling window.
type PoolingInfo = backend.PoolingInfo

// NormalizationMode selects how batch normalization groups its statistics.
type NormalizationMode = backend.NormalizationMode

// Normalization modes.
const (
	PerActivation = backend.PerActivation
	Spatial       = backend.Spatial
)

// DefaultConvolution is a stride 1 convolution without padding.
var DefaultConvolution = backend.DefaultConvolution
