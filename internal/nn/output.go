package nn

import (
	"github.com/born-ml/graphnet/internal/activation"
	"github.com/born-ml/graphnet/internal/cost"
	"github.com/born-ml/graphnet/internal/parallel"
	"github.com/born-ml/graphnet/internal/tensor"
)

// OutputLayer is a fully connected layer bound to a cost function.
//
// Supported pairings:
//   - quadratic cost with any elementwise activation
//   - cross-entropy cost with sigmoid
//   - log-likelihood cost with softmax
//
// The last two use the simplified output delta yHat - y, which already
// contains the activation derivative.
type OutputLayer struct {
	FullyConnectedLayer
	cost cost.Kind
	cfg  parallel.Config
}

// Output returns a factory for an output layer.
func Output(out int, act activation.Kind, c cost.Kind, opts ...Option) Factory {
	return func(in tensor.Info) (Layer, error) {
		l, err := NewOutput(in, out, act, c, opts...)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
}

// Softmax returns a factory for a softmax output layer trained with the
// log-likelihood cost.
func Softmax(out int, opts ...Option) Factory {
	return Output(out, activation.Softmax, cost.LogLikelihood, opts...)
}

// NewOutput creates an output layer. Invalid activation/cost pairings are
// rejected here rather than at the first backward pass.
func NewOutput(in tensor.Info, out int, act activation.Kind, c cost.Kind, opts ...Option) (*OutputLayer, error) {
	const layer = "output"
	switch {
	case act == activation.Softmax && c != cost.LogLikelihood:
		return nil, configError(layer, "softmax requires the log-likelihood cost, got %s", c)
	case c == cost.LogLikelihood && act != activation.Softmax:
		return nil, configError(layer, "log-likelihood cost requires softmax, got %s", act)
	case c == cost.CrossEntropy && act != activation.Sigmoid:
		return nil, configError(layer, "cross-entropy cost requires sigmoid, got %s", act)
	}
	if ok, _ := cost.Compatible(c, act); !ok {
		return nil, configError(layer, "unsupported pairing %s/%s", act, c)
	}

	fc, err := newFullyConnected(layer, in, out, act, opts)
	if err != nil {
		return nil, err
	}
	cfg := parallel.DefaultConfig()
	if be, ok := fc.be.(interface{ Config() parallel.Config }); ok {
		cfg = be.Config()
	}
	return &OutputLayer{FullyConnectedLayer: *fc, cost: c, cfg: cfg}, nil
}

// Type returns "output".
func (l *OutputLayer) Type() string { return "output" }

// Cost returns the cost function of the layer.
func (l *OutputLayer) Cost() cost.Kind { return l.cost }

// Parallel returns the configuration of the cost and delta reductions,
// taken from the layer backend.
func (l *OutputLayer) Parallel() parallel.Config { return l.cfg }

// OutputDelta computes dJ/dz into z and returns it.
func (l *OutputLayer) OutputDelta(yHat, y, z *tensor.Tensor) (*tensor.Tensor, error) {
	return cost.Delta(l.cost, l.act, yHat, y, z, l.cfg)
}

// BackpropagateOutput computes the output delta into z and the parameter
// gradients for input x. On error z is left to the caller.
func (l *OutputLayer) BackpropagateOutput(x, yHat, y, z *tensor.Tensor) (delta, dJdw, dJdb *tensor.Tensor, err error) {
	delta, err = l.OutputDelta(yHat, y, z)
	if err != nil {
		return nil, nil, nil, err
	}
	dJdw, dJdb, err = l.ComputeGradient(x, delta)
	if err != nil {
		return nil, nil, nil, err
	}
	return delta, dJdw, dJdb, nil
}

// Evaluate returns the batch averaged cost of yHat against y.
func (l *OutputLayer) Evaluate(yHat, y *tensor.Tensor) (float32, error) {
	return cost.Evaluate(l.cost, yHat, y, l.cfg)
}

// Clone returns a deep copy of the layer.
func (l *OutputLayer) Clone() Layer {
	c := *l
	c.params = l.params.clone()
	return &c
}

// LoadStateDict copies weights and biases from state.
func (l *OutputLayer) LoadStateDict(state map[string]*tensor.Tensor) error {
	return restore(l.Type(), state, l.tensors())
}
