package nn

import (
	"github.com/born-ml/graphnet/internal/activation"
	"github.com/born-ml/graphnet/internal/backend"
	"github.com/born-ml/graphnet/internal/tensor"
)

// ConvolutionalLayer applies a bank of kernels to input volumes.
//
// Input shape: [batch_size, C*H*W]
// Kernels: [K, C*kh*kw], one row per kernel
// Output shape: [batch_size, K*OH*OW]
//
// Where:
//
//	OH = (H + 2*vertical_padding - kh) / vertical_stride + 1
//	OW = (W + 2*horizontal_padding - kw) / horizontal_stride + 1
type ConvolutionalLayer struct {
	base
	params
	kernel backend.KernelInfo
	op     backend.ConvolutionInfo
}

// Convolutional returns a factory for a convolutional layer.
func Convolutional(kernel backend.KernelInfo, op backend.ConvolutionInfo, act activation.Kind, opts ...Option) Factory {
	return func(in tensor.Info) (Layer, error) {
		l, err := NewConvolutional(in, kernel, op, act, opts...)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
}

// NewConvolutional creates a convolutional layer.
func NewConvolutional(in tensor.Info, kernel backend.KernelInfo, op backend.ConvolutionInfo, act activation.Kind, opts ...Option) (*ConvolutionalLayer, error) {
	const layer = "convolutional"
	if err := checkHiddenActivation(layer, act); err != nil {
		return nil, err
	}
	out, err := op.OutputInfo(in, kernel)
	if err != nil {
		return nil, configError(layer, "%v", err)
	}
	o := newOptions(opts)
	if err := o.init.validate(layer); err != nil {
		return nil, err
	}
	b, err := newBase(layer, in, out, act, o.backend)
	if err != nil {
		return nil, err
	}

	size := in.Channels * kernel.Height * kernel.Width
	l := &ConvolutionalLayer{
		base: b,
		params: params{
			w: tensor.MustNew(kernel.Count, size),
			b: tensor.MustNew(1, kernel.Count),
		},
		kernel: kernel,
		op:     op,
	}
	initialize(l.w, o.init, size, kernel.Count*kernel.Height*kernel.Width, o.rng)
	return l, nil
}

// Type returns "convolutional".
func (l *ConvolutionalLayer) Type() string { return "convolutional" }

// Kernel returns the kernel bank description.
func (l *ConvolutionalLayer) Kernel() backend.KernelInfo { return l.kernel }

// Operation returns the padding and stride of the convolution.
func (l *ConvolutionalLayer) Operation() backend.ConvolutionInfo { return l.op }

// Forward convolves x with every kernel and applies the activation.
func (l *ConvolutionalLayer) Forward(x *tensor.Tensor) (z, a *tensor.Tensor, err error) {
	if err := l.checkInput("convolution forward", x); err != nil {
		return nil, nil, err
	}
	return l.forward(x.Entities(), func(z *tensor.Tensor) error {
		return l.be.ConvolutionForward(l.in, x, l.kernel, l.op, l.w, l.b, z)
	})
}

// Backpropagate scatters dy through the kernels and multiplies by prime(z).
func (l *ConvolutionalLayer) Backpropagate(_, dy, z *tensor.Tensor, prime activation.Func) (*tensor.Tensor, error) {
	return l.backward("convolution backward", z, prime, func(dx *tensor.Tensor) error {
		return l.be.ConvolutionBackwardData(l.in, l.kernel, l.op, l.w, dy, dx)
	})
}

// ComputeGradient returns the kernel and bias gradients.
func (l *ConvolutionalLayer) ComputeGradient(x, dy *tensor.Tensor) (dJdw, dJdb *tensor.Tensor, err error) {
	dJdw = tensor.Like(l.w)
	if err := l.be.ConvolutionBackwardFilter(l.in, x, l.kernel, l.op, dy, dJdw); err != nil {
		dJdw.Free()
		return nil, nil, err
	}
	dJdb = tensor.Like(l.b)
	if err := l.be.ConvolutionBackwardBias(l.out, dy, dJdb); err != nil {
		dJdw.Free()
		dJdb.Free()
		return nil, nil, err
	}
	return dJdw, dJdb, nil
}

// Clone returns a deep copy of the layer.
func (l *ConvolutionalLayer) Clone() Layer {
	c := *l
	c.params = l.params.clone()
	return &c
}

// StateDict returns copies of the kernels and biases.
func (l *ConvolutionalLayer) StateDict() map[string]*tensor.Tensor {
	return snapshot(l.tensors())
}

// LoadStateDict copies kernels and biases from state.
func (l *ConvolutionalLayer) LoadStateDict(state map[string]*tensor.Tensor) error {
	return restore(l.Type(), state, l.tensors())
}
