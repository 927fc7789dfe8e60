package nn

import (
	"github.com/born-ml/graphnet/internal/activation"
	"github.com/born-ml/graphnet/internal/backend"
	"github.com/born-ml/graphnet/internal/tensor"
)

// BatchNormalizationLayer normalizes its input with batch statistics during
// training and with running averages otherwise.
//
// Weights hold the scale gamma and Biases the shift beta, one value per
// statistic group (feature for PerActivation, channel for Spatial).
//
// The running mean and variance are cumulative averages of the statistics
// of every training batch seen so far.
type BatchNormalizationLayer struct {
	base
	params
	mode backend.NormalizationMode

	// statistics of the last training batch, used by the backward pass
	mu, sigma2 *tensor.Tensor

	runningMean, runningVariance *tensor.Tensor
	batches                      int
}

// BatchNormalization returns a factory for a batch normalization layer.
func BatchNormalization(mode backend.NormalizationMode, act activation.Kind, opts ...Option) Factory {
	return func(in tensor.Info) (Layer, error) {
		l, err := NewBatchNormalization(in, mode, act, opts...)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
}

// NewBatchNormalization creates a batch normalization layer with gamma = 1
// and beta = 0.
func NewBatchNormalization(in tensor.Info, mode backend.NormalizationMode, act activation.Kind, opts ...Option) (*BatchNormalizationLayer, error) {
	const layer = "batch-normalization"
	if err := checkHiddenActivation(layer, act); err != nil {
		return nil, err
	}
	if mode != backend.PerActivation && mode != backend.Spatial {
		return nil, configError(layer, "unsupported mode %s", mode)
	}
	o := newOptions(opts)
	b, err := newBase(layer, in, in, act, o.backend)
	if err != nil {
		return nil, err
	}

	size := mode.ParameterSize(in)
	l := &BatchNormalizationLayer{
		base: b,
		params: params{
			w: tensor.MustNew(1, size),
			b: tensor.MustNew(1, size),
		},
		mode:            mode,
		mu:              tensor.MustNew(1, size),
		sigma2:          tensor.MustNew(1, size),
		runningMean:     tensor.MustNew(1, size),
		runningVariance: tensor.MustNew(1, size),
	}
	l.w.Fill(1)
	l.runningVariance.Fill(1)
	return l, nil
}

// Type returns "batch-normalization".
func (l *BatchNormalizationLayer) Type() string { return "batch-normalization" }

// Mode returns the normalization mode.
func (l *BatchNormalizationLayer) Mode() backend.NormalizationMode { return l.mode }

// RunningMean returns the cumulative mean of the training batches.
func (l *BatchNormalizationLayer) RunningMean() *tensor.Tensor { return l.runningMean }

// RunningVariance returns the cumulative variance of the training batches.
func (l *BatchNormalizationLayer) RunningVariance() *tensor.Tensor { return l.runningVariance }

// Forward normalizes x with the running statistics.
func (l *BatchNormalizationLayer) Forward(x *tensor.Tensor) (z, a *tensor.Tensor, err error) {
	if err := l.checkInput("batch normalization forward", x); err != nil {
		return nil, nil, err
	}
	return l.forward(x.Entities(), func(z *tensor.Tensor) error {
		return l.be.BatchNormalizationInference(l.mode, l.in, x, l.runningMean, l.runningVariance, l.w, l.b, z)
	})
}

// ForwardTraining normalizes x with its own statistics, keeps them for the
// backward pass and folds them into the running averages.
func (l *BatchNormalizationLayer) ForwardTraining(x *tensor.Tensor) (z, a *tensor.Tensor, err error) {
	if err := l.checkInput("batch normalization forward", x); err != nil {
		return nil, nil, err
	}
	z, a, err = l.forward(x.Entities(), func(z *tensor.Tensor) error {
		return l.be.BatchNormalizationForward(l.mode, l.in, x, l.mu, l.sigma2, l.w, l.b, z)
	})
	if err != nil {
		return nil, nil, err
	}

	l.batches++
	rate := 1 / float32(l.batches)
	mean, variance := l.runningMean.Data(), l.runningVariance.Data()
	for i, m := range l.mu.Data() {
		mean[i] += (m - mean[i]) * rate
		variance[i] += (l.sigma2.Data()[i] - variance[i]) * rate
	}
	return z, a, nil
}

// Backpropagate computes the input delta from the statistics of the last
// training batch and multiplies it by prime(z).
func (l *BatchNormalizationLayer) Backpropagate(x, dy, z *tensor.Tensor, prime activation.Func) (*tensor.Tensor, error) {
	return l.backward("batch normalization backward", z, prime, func(dx *tensor.Tensor) error {
		return l.be.BatchNormalizationBackwardData(l.mode, l.in, x, l.mu, l.sigma2, l.w, dy, dx)
	})
}

// ComputeGradient returns the gamma and beta gradients.
func (l *BatchNormalizationLayer) ComputeGradient(x, dy *tensor.Tensor) (dJdw, dJdb *tensor.Tensor, err error) {
	dJdw = tensor.Like(l.w)
	if err := l.be.BatchNormalizationBackwardGamma(l.mode, l.in, x, l.mu, l.sigma2, dy, dJdw); err != nil {
		dJdw.Free()
		return nil, nil, err
	}
	dJdb = tensor.Like(l.b)
	if err := l.be.BatchNormalizationBackwardBeta(l.mode, l.in, dy, dJdb); err != nil {
		dJdw.Free()
		dJdb.Free()
		return nil, nil, err
	}
	return dJdw, dJdb, nil
}

// Clone returns a deep copy of the layer, running statistics included.
func (l *BatchNormalizationLayer) Clone() Layer {
	c := *l
	c.params = l.params.clone()
	c.mu = l.mu.Duplicate()
	c.sigma2 = l.sigma2.Duplicate()
	c.runningMean = l.runningMean.Duplicate()
	c.runningVariance = l.runningVariance.Duplicate()
	return &c
}

func (l *BatchNormalizationLayer) stateTensors() map[string]*tensor.Tensor {
	state := l.tensors()
	state[KeyRunningMean] = l.runningMean
	state[KeyRunningVariance] = l.runningVariance
	return state
}

// StateDict returns copies of gamma, beta and the running statistics.
func (l *BatchNormalizationLayer) StateDict() map[string]*tensor.Tensor {
	return snapshot(l.stateTensors())
}

// LoadStateDict copies gamma, beta and the running statistics from state.
func (l *BatchNormalizationLayer) LoadStateDict(state map[string]*tensor.Tensor) error {
	return restore(l.Type(), state, l.stateTensors())
}
