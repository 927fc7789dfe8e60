package nn

import (
	"github.com/born-ml/graphnet/internal/activation"
	"github.com/born-ml/graphnet/internal/backend"
	"github.com/born-ml/graphnet/internal/tensor"
)

// PoolingLayer applies max pooling to every channel. It has no parameters
// and its activation is always the identity.
type PoolingLayer struct {
	base
	pool backend.PoolingInfo
}

// Pooling returns a factory for a max pooling layer.
func Pooling(pool backend.PoolingInfo, opts ...Option) Factory {
	return func(in tensor.Info) (Layer, error) {
		l, err := NewPooling(in, pool, opts...)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
}

// NewPooling creates a max pooling layer.
func NewPooling(in tensor.Info, pool backend.PoolingInfo, opts ...Option) (*PoolingLayer, error) {
	const layer = "pooling"
	out, err := pool.OutputInfo(in)
	if err != nil {
		return nil, configError(layer, "%v", err)
	}
	o := newOptions(opts)
	b, err := newBase(layer, in, out, activation.Identity, o.backend)
	if err != nil {
		return nil, err
	}
	return &PoolingLayer{base: b, pool: pool}, nil
}

// Type returns "pooling".
func (l *PoolingLayer) Type() string { return "pooling" }

// Pool returns the pooling window.
func (l *PoolingLayer) Pool() backend.PoolingInfo { return l.pool }

// Forward returns the window maxima of x, z and a holding the same values.
func (l *PoolingLayer) Forward(x *tensor.Tensor) (z, a *tensor.Tensor, err error) {
	if err := l.checkInput("pooling forward", x); err != nil {
		return nil, nil, err
	}
	return l.forward(x.Entities(), func(z *tensor.Tensor) error {
		return l.be.PoolingForward(l.in, l.pool, x, z)
	})
}

// Backpropagate routes dy to the window maxima of x and multiplies by prime(z).
func (l *PoolingLayer) Backpropagate(x, dy, z *tensor.Tensor, prime activation.Func) (*tensor.Tensor, error) {
	return l.backward("pooling backward", z, prime, func(dx *tensor.Tensor) error {
		return l.be.PoolingBackward(l.in, l.pool, x, dy, dx)
	})
}

// Clone returns a copy of the layer.
func (l *PoolingLayer) Clone() Layer {
	c := *l
	return &c
}
