// Package backend defines the numeric primitives every graphnet layer is
// built from.
//
// Implementations:
//   - cpu: pure Go reference backend, parallelized with internal/parallel
//   - any accelerated backend must match cpu within Tolerance on identical inputs
//
// Every primitive validates the shapes of its arguments before touching the
// outputs and reports violations as *tensor.ShapeError.
package backend

import (
	"fmt"

	"github.com/born-ml/graphnet/internal/activation"
	"github.com/born-ml/graphnet/internal/tensor"
)

// Tolerance is the maximum absolute difference allowed between two backends
// computing the same primitive on identical inputs.
const Tolerance = 1e-5

// Backend is the primitive contract used by the layers.
//
// Outputs are always caller allocated. Unless stated otherwise an output may
// not alias an input.
type Backend interface {
	// Name returns a short identifier such as "cpu".
	Name() string

	// ActivationForward computes y = f(x) elementwise. y may alias x.
	ActivationForward(x *tensor.Tensor, f activation.Func, y *tensor.Tensor) error
	// ActivationBackward computes dx = prime(z) * dy elementwise. dx may alias z or dy.
	ActivationBackward(z, dy *tensor.Tensor, prime activation.Func, dx *tensor.Tensor) error
	// SoftmaxForward normalizes every row of x into a probability distribution. y may alias x.
	SoftmaxForward(x, y *tensor.Tensor) error

	// FullyConnectedForward computes y = x*w + b.
	FullyConnectedForward(x, w, b, y *tensor.Tensor) error
	// FullyConnectedBackwardData computes dx = dy*wᵗ.
	FullyConnectedBackwardData(w, dy, dx *tensor.Tensor) error
	// FullyConnectedBackwardFilter computes dw = xᵗ*dy.
	FullyConnectedBackwardFilter(x, dy, dw *tensor.Tensor) error
	// FullyConnectedBackwardBias computes the column sums of dy.
	FullyConnectedBackwardBias(dy, db *tensor.Tensor) error

	// ConvolutionForward computes y = x ⊛ w + b for every entity.
	ConvolutionForward(in tensor.Info, x *tensor.Tensor, kernel KernelInfo, op ConvolutionInfo, w, b, y *tensor.Tensor) error
	// ConvolutionBackwardData computes the input gradient dx from dy.
	ConvolutionBackwardData(in tensor.Info, kernel KernelInfo, op ConvolutionInfo, w, dy, dx *tensor.Tensor) error
	// ConvolutionBackwardFilter computes the kernel gradient dw, summed over entities.
	ConvolutionBackwardFilter(in tensor.Info, x *tensor.Tensor, kernel KernelInfo, op ConvolutionInfo, dy, dw *tensor.Tensor) error
	// ConvolutionBackwardBias sums dy over entities and spatial positions of every output channel.
	ConvolutionBackwardBias(out tensor.Info, dy, db *tensor.Tensor) error

	// PoolingForward applies max pooling to every channel of every entity.
	PoolingForward(in tensor.Info, pool PoolingInfo, x, y *tensor.Tensor) error
	// PoolingBackward routes dy to the position of every window maximum of x.
	PoolingBackward(in tensor.Info, pool PoolingInfo, x, dy, dx *tensor.Tensor) error

	// BatchNormalizationForward computes the batch statistics into mu and
	// sigma2, then y = gamma*(x-mu)/sqrt(sigma2+eps) + beta.
	BatchNormalizationForward(mode NormalizationMode, in tensor.Info, x, mu, sigma2, gamma, beta, y *tensor.Tensor) error
	// BatchNormalizationInference normalizes x with the provided statistics.
	BatchNormalizationInference(mode NormalizationMode, in tensor.Info, x, mu, sigma2, gamma, beta, y *tensor.Tensor) error
	// BatchNormalizationBackwardData computes dx from the statistics of the paired forward call.
	BatchNormalizationBackwardData(mode NormalizationMode, in tensor.Info, x, mu, sigma2, gamma, dy, dx *tensor.Tensor) error
	// BatchNormalizationBackwardGamma computes the scale gradient.
	BatchNormalizationBackwardGamma(mode NormalizationMode, in tensor.Info, x, mu, sigma2, dy, dgamma *tensor.Tensor) error
	// BatchNormalizationBackwardBeta computes the shift gradient.
	BatchNormalizationBackwardBeta(mode NormalizationMode, in tensor.Info, dy, dbeta *tensor.Tensor) error

	// DepthConcatenationForward concatenates the rows of inputs into y.
	DepthConcatenationForward(inputs []*tensor.Tensor, y *tensor.Tensor) error
	// DepthConcatenationBackward copies the columns [offset, offset+dx.Length()) of dy into dx.
	DepthConcatenationBackward(dy *tensor.Tensor, offset int, dx *tensor.Tensor) error
	// SumForward computes the elementwise sum of inputs into y. y may alias one of the inputs.
	SumForward(inputs []*tensor.Tensor, y *tensor.Tensor) error
}

// NormalizationMode selects how batch normalization groups its statistics.
type NormalizationMode int

const (
	// PerActivation computes one mean and variance per feature.
	PerActivation NormalizationMode = iota
	// Spatial shares the statistics of all positions of a channel.
	Spatial
)

// String returns the mode name.
func (m NormalizationMode) String() string {
	switch m {
	case PerActivation:
		return "per-activation"
	case Spatial:
		return "spatial"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParameterSize returns the number of statistics (and scale/shift values)
// used by mode for inputs described by in.
func (m NormalizationMode) ParameterSize(in tensor.Info) int {
	if m == Spatial {
		return in.Channels
	}
	return in.Size()
}

// KernelInfo describes a bank of convolution kernels.
type KernelInfo struct {
	Height int
	Width  int
	Count  int
}

// ConvolutionInfo holds the padding and stride of a convolution.
type ConvolutionInfo struct {
	VerticalPadding   int
	HorizontalPadding int
	VerticalStride    int
	HorizontalStride  int
}

// DefaultConvolution is a stride 1 convolution without padding.
var DefaultConvolution = ConvolutionInfo{VerticalStride: 1, HorizontalStride: 1}

// OutputInfo returns the output volume of a convolution over in.
func (op ConvolutionInfo) OutputInfo(in tensor.Info, kernel KernelInfo) (tensor.Info, error) {
	if kernel.Height <= 0 || kernel.Width <= 0 || kernel.Count <= 0 {
		return tensor.Info{}, fmt.Errorf("invalid kernel %dx%d (x%d)", kernel.Height, kernel.Width, kernel.Count)
	}
	if op.VerticalStride <= 0 || op.HorizontalStride <= 0 || op.VerticalPadding < 0 || op.HorizontalPadding < 0 {
		return tensor.Info{}, fmt.Errorf("invalid convolution stride/padding %+v", op)
	}
	h := in.Height + 2*op.VerticalPadding - kernel.Height
	w := in.Width + 2*op.HorizontalPadding - kernel.Width
	if h < 0 || w < 0 {
		return tensor.Info{}, fmt.Errorf("kernel %dx%d larger than padded input %s", kernel.Height, kernel.Width, in)
	}
	return tensor.Volume(h/op.VerticalStride+1, w/op.HorizontalStride+1, kernel.Count), nil
}

// PoolingInfo describes a max pooling window.
type PoolingInfo struct {
	Size   int
	Stride int
}

// OutputInfo returns the output volume of the pooling over in.
func (p PoolingInfo) OutputInfo(in tensor.Info) (tensor.Info, error) {
	if p.Size <= 0 || p.Stride <= 0 {
		return tensor.Info{}, fmt.Errorf("invalid pooling window %d (stride %d)", p.Size, p.Stride)
	}
	if in.Height < p.Size || in.Width < p.Size {
		return tensor.Info{}, fmt.Errorf("pooling window %d larger than input %s", p.Size, in)
	}
	return tensor.Volume((in.Height-p.Size)/p.Stride+1, (in.Width-p.Size)/p.Stride+1, in.Channels), nil
}
