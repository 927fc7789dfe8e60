package nn

import (
	"github.com/born-ml/graphnet/internal/activation"
	"github.com/born-ml/graphnet/internal/tensor"
)

// FullyConnectedLayer computes a = f(x*W + b).
//
// Shapes:
//   - x: [batch_size, in] (volumes are flattened)
//   - W: [in, out]
//   - b: [1, out]
//
// Example:
//
//	layer, _ := nn.NewFullyConnected(tensor.Linear(784), 30, activation.Sigmoid)
//	z, a, _ := layer.Forward(x) // [batch_size, 30]
type FullyConnectedLayer struct {
	base
	params
}

// FullyConnected returns a factory for a fully connected layer with out units.
func FullyConnected(out int, act activation.Kind, opts ...Option) Factory {
	return func(in tensor.Info) (Layer, error) {
		l, err := NewFullyConnected(in, out, act, opts...)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
}

// NewFullyConnected creates a fully connected layer.
//
// Weights use the configured initialization (Glorot uniform by default),
// biases start at zero.
func NewFullyConnected(in tensor.Info, out int, act activation.Kind, opts ...Option) (*FullyConnectedLayer, error) {
	const layer = "fully-connected"
	if err := checkHiddenActivation(layer, act); err != nil {
		return nil, err
	}
	return newFullyConnected(layer, in, out, act, opts)
}

func newFullyConnected(layer string, in tensor.Info, out int, act activation.Kind, opts []Option) (*FullyConnectedLayer, error) {
	if out <= 0 {
		return nil, configError(layer, "output size must be positive, got %d", out)
	}
	o := newOptions(opts)
	if err := o.init.validate(layer); err != nil {
		return nil, err
	}
	b, err := newBase(layer, in, tensor.Linear(out), act, o.backend)
	if err != nil {
		return nil, err
	}

	l := &FullyConnectedLayer{
		base: b,
		params: params{
			w: tensor.MustNew(in.Size(), out),
			b: tensor.MustNew(1, out),
		},
	}
	initialize(l.w, o.init, in.Size(), out, o.rng)
	return l, nil
}

// Type returns "fully-connected".
func (l *FullyConnectedLayer) Type() string { return "fully-connected" }

// Forward computes z = x*W + b and a = f(z).
func (l *FullyConnectedLayer) Forward(x *tensor.Tensor) (z, a *tensor.Tensor, err error) {
	if err := l.checkInput("fully connected forward", x); err != nil {
		return nil, nil, err
	}
	return l.forward(x.Entities(), func(z *tensor.Tensor) error {
		return l.be.FullyConnectedForward(x, l.w, l.b, z)
	})
}

// Backpropagate computes (dy*Wᵗ) * prime(z) into z.
func (l *FullyConnectedLayer) Backpropagate(_, dy, z *tensor.Tensor, prime activation.Func) (*tensor.Tensor, error) {
	return l.backward("fully connected backward", z, prime, func(dx *tensor.Tensor) error {
		return l.be.FullyConnectedBackwardData(l.w, dy, dx)
	})
}

// ComputeGradient returns dJdw = xᵗ*dy and dJdb = column sums of dy.
func (l *FullyConnectedLayer) ComputeGradient(x, dy *tensor.Tensor) (dJdw, dJdb *tensor.Tensor, err error) {
	dJdw = tensor.Like(l.w)
	if err := l.be.FullyConnectedBackwardFilter(x, dy, dJdw); err != nil {
		dJdw.Free()
		return nil, nil, err
	}
	dJdb = tensor.Like(l.b)
	if err := l.be.FullyConnectedBackwardBias(dy, dJdb); err != nil {
		dJdw.Free()
		dJdb.Free()
		return nil, nil, err
	}
	return dJdw, dJdb, nil
}

// Clone returns a deep copy of the layer.
func (l *FullyConnectedLayer) Clone() Layer {
	c := *l
	c.params = l.params.clone()
	return &c
}

// StateDict returns copies of the weights and biases.
func (l *FullyConnectedLayer) StateDict() map[string]*tensor.Tensor {
	return snapshot(l.tensors())
}

// LoadStateDict copies weights and biases from state.
func (l *FullyConnectedLayer) LoadStateDict(state map[string]*tensor.Tensor) error {
	return restore(l.Type(), state, l.tensors())
}
