// Package nn implements the layers of a graphnet computation graph.
//
// This package provides:
//   - Layer: forward pass and input-side delta of any layer
//   - WeightedLayer: layers with trainable weights and biases
//   - CostLayer: output layers bound to a cost function
//   - FullyConnected, Convolutional, Pooling, BatchNormalization, Output and
//     Softmax factories, resolved by the graph builder against the shape of
//     their parent node
//
// Layers are stateless between calls except for their parameters (and the
// batch statistics of batch normalization). Every tensor a layer returns is
// owned by the caller.
package nn

import (
	"math/rand"
	"time"

	"github.com/born-ml/graphnet/internal/activation"
	"github.com/born-ml/graphnet/internal/backend"
	"github.com/born-ml/graphnet/internal/backend/cpu"
	"github.com/born-ml/graphnet/internal/cost"
	"github.com/born-ml/graphnet/internal/tensor"
)

// Layer is the interface shared by every layer.
type Layer interface {
	// Type returns the layer type, e.g. "fully-connected".
	Type() string

	InputInfo() tensor.Info
	OutputInfo() tensor.Info

	// Activation returns the activation applied to the layer activity.
	Activation() activation.Kind

	// Forward computes the activity z and the activation a of x.
	// Both are new tensors owned by the caller.
	Forward(x *tensor.Tensor) (z, a *tensor.Tensor, err error)

	// Backpropagate computes the delta of the layer input.
	//
	// x is the layer input (the parent activation), dy the delta of this
	// layer and z the parent activity. z is consumed: it is overwritten with
	// (dy through the layer) * prime(z) and returned. A nil prime leaves the
	// propagated delta unscaled.
	Backpropagate(x, dy, z *tensor.Tensor, prime activation.Func) (*tensor.Tensor, error)

	// Clone returns an independent deep copy of the layer.
	Clone() Layer
}

// WeightedLayer is a layer with trainable parameters.
type WeightedLayer interface {
	Layer

	// Weights and Biases return the live parameter tensors, mutated in
	// place by the updaters.
	Weights() *tensor.Tensor
	Biases() *tensor.Tensor

	// ComputeGradient returns the gradients of the weights and biases for
	// input x and layer delta dy, summed over the batch.
	ComputeGradient(x, dy *tensor.Tensor) (dJdw, dJdb *tensor.Tensor, err error)

	// Parameters returns the number of trainable values.
	Parameters() int

	// StateDict returns copies of every persistent tensor of the layer.
	StateDict() map[string]*tensor.Tensor
	// LoadStateDict copies the given tensors into the layer.
	LoadStateDict(state map[string]*tensor.Tensor) error
}

// CostLayer is an output layer: a weighted layer paired with a cost function.
type CostLayer interface {
	WeightedLayer

	Cost() cost.Kind

	// Evaluate returns the batch averaged cost of yHat against y.
	Evaluate(yHat, y *tensor.Tensor) (float32, error)

	// OutputDelta computes dJ/dz into z, which is consumed and returned.
	OutputDelta(yHat, y, z *tensor.Tensor) (*tensor.Tensor, error)

	// BackpropagateOutput computes the output delta (consuming z) and the
	// parameter gradients for input x.
	BackpropagateOutput(x, yHat, y, z *tensor.Tensor) (delta, dJdw, dJdb *tensor.Tensor, err error)
}

// TrainingForwarder is implemented by layers whose forward pass differs
// during training.
type TrainingForwarder interface {
	Layer
	ForwardTraining(x *tensor.Tensor) (z, a *tensor.Tensor, err error)
}

// Factory builds a layer for inputs described by in.
type Factory func(in tensor.Info) (Layer, error)

// Initialization selects the weight initialization scheme.
type Initialization int

// Supported initializations.
const (
	GlorotUniform Initialization = iota
	HeNormal
	LeCunNormal
)

type options struct {
	backend backend.Backend
	rng     *rand.Rand
	init    Initialization
}

// Option configures a layer.
type Option func(*options)

// WithBackend sets the backend executing the layer primitives.
func WithBackend(b backend.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithRand sets the random source used for weight initialization.
func WithRand(rng *rand.Rand) Option {
	return func(o *options) { o.rng = rng }
}

// WithInitialization selects the weight initialization scheme.
func WithInitialization(init Initialization) Option {
	return func(o *options) { o.init = init }
}

func newOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.backend == nil {
		o.backend = cpu.New()
	}
	if o.rng == nil {
		//nolint:gosec // math/rand is appropriate for ML weight initialization
		o.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return o
}

// base holds what every layer has: its shapes, its activation and its backend.
type base struct {
	in, out tensor.Info
	act     activation.Kind
	f       activation.Func // nil for softmax
	be      backend.Backend
}

func newBase(layer string, in, out tensor.Info, act activation.Kind, be backend.Backend) (base, error) {
	if err := in.Validate(); err != nil {
		return base{}, configError(layer, "input %s: %v", in, err)
	}
	if err := out.Validate(); err != nil {
		return base{}, configError(layer, "output %s: %v", out, err)
	}
	b := base{in: in, out: out, act: act, be: be}
	if act.Elementwise() {
		f, _, err := activation.Functions(act)
		if err != nil {
			return base{}, configError(layer, "%v", err)
		}
		b.f = f
	}
	return b, nil
}

func (b *base) InputInfo() tensor.Info      { return b.in }
func (b *base) OutputInfo() tensor.Info     { return b.out }
func (b *base) Activation() activation.Kind { return b.act }

func (b *base) checkInput(op string, x *tensor.Tensor) error {
	if x.Length() != b.in.Size() {
		return tensor.Mismatchf(op, "input length %d, layer expects %s", x.Length(), b.in)
	}
	return nil
}

// activate returns a new tensor holding the activation of z.
func (b *base) activate(z *tensor.Tensor) (*tensor.Tensor, error) {
	switch {
	case b.act == activation.Identity:
		return z.Duplicate(), nil
	case b.act == activation.Softmax:
		a := tensor.Like(z)
		if err := b.be.SoftmaxForward(z, a); err != nil {
			a.Free()
			return nil, err
		}
		return a, nil
	default:
		a := tensor.Like(z)
		if err := b.be.ActivationForward(z, b.f, a); err != nil {
			a.Free()
			return nil, err
		}
		return a, nil
	}
}

// forward allocates z, fills it with compute and activates it.
func (b *base) forward(entities int, compute func(z *tensor.Tensor) error) (z, a *tensor.Tensor, err error) {
	z = tensor.MustNew(entities, b.out.Size())
	if err := compute(z); err != nil {
		z.Free()
		return nil, nil, err
	}
	a, err = b.activate(z)
	if err != nil {
		z.Free()
		return nil, nil, err
	}
	return z, a, nil
}

// backward lets compute write the propagated delta into a scratch tensor,
// then folds it with prime(z) into z.
func (b *base) backward(op string, z *tensor.Tensor, prime activation.Func, compute func(dx *tensor.Tensor) error) (*tensor.Tensor, error) {
	if z.Length() != b.in.Size() {
		return nil, tensor.Mismatchf(op, "parent activity length %d, layer expects %s", z.Length(), b.in)
	}
	dx := tensor.Like(z)
	defer dx.Free()
	if err := compute(dx); err != nil {
		return nil, err
	}
	if prime == nil {
		if err := dx.CopyTo(z); err != nil {
			return nil, err
		}
		return z, nil
	}
	if err := b.be.ActivationBackward(z, dx, prime, z); err != nil {
		return nil, err
	}
	return z, nil
}

// checkHiddenActivation rejects activations reserved to output layers.
func checkHiddenActivation(layer string, act activation.Kind) error {
	if !act.Elementwise() {
		return configError(layer, "%s is only supported by output layers", act)
	}
	if _, _, err := activation.Functions(act); err != nil {
		return configError(layer, "%v", err)
	}
	return nil
}
