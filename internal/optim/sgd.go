package optim

import (
	"fmt"

	"github.com/born-ml/graphnet/internal/nn"
	"github.com/born-ml/graphnet/internal/tensor"
)

// SGDConfig configures stochastic gradient descent.
//
// Update rule, with N the number of samples of the batch:
//
//	w = w - (lr/N) * dJdw - (lr*lambda/N) * w
//	b = b - (lr/N) * dJdb
//
// With momentum the scaled gradient feeds a velocity instead:
//
//	v = momentum * v + dJdw/N + (lambda/N) * w
//	w = w - lr * v
type SGDConfig struct {
	LearningRate float32 // default: 0.1
	WeightDecay  float32 // L2 factor lambda (default: 0)
	Momentum     float32 // range [0, 1) (default: 0)
}

func (c SGDConfig) withDefaults() SGDConfig {
	if c.LearningRate == 0 {
		c.LearningRate = 0.1
	}
	return c
}

// String implements fmt.Stringer.
func (c SGDConfig) String() string {
	c = c.withDefaults()
	return fmt.Sprintf("sgd(lr=%g, lambda=%g, momentum=%g)", c.LearningRate, c.WeightDecay, c.Momentum)
}

// New returns an SGD updater for layers.
func (c SGDConfig) New(layers []nn.WeightedLayer) (Updater, error) {
	c = c.withDefaults()
	if c.LearningRate < 0 || c.WeightDecay < 0 {
		return nil, fmt.Errorf("sgd: negative hyperparameter in %s", c)
	}
	if err := checkRange("sgd", "momentum", c.Momentum, 0, 1); err != nil {
		return nil, err
	}
	s := &SGD{cfg: c, shapes: shapesOf(layers)}
	if c.Momentum > 0 {
		s.velocity = newArena(layers, 1)
	}
	return s, nil
}

// SGD is the stochastic gradient descent updater.
type SGD struct {
	cfg      SGDConfig
	shapes   []shape
	velocity *arena // nil without momentum
}

// Update implements Updater.
func (s *SGD) Update(index int, dJdw, dJdb *tensor.Tensor, samples int, layer nn.WeightedLayer) error {
	if err := checkUpdate("sgd", s.shapes, index, dJdw, dJdb, samples, layer); err != nil {
		return err
	}
	n := float32(samples)
	lr, decay := s.cfg.LearningRate, s.cfg.WeightDecay/n
	w, gw := layer.Weights().Data(), dJdw.Data()
	b, gb := layer.Biases().Data(), dJdb.Data()

	if s.velocity == nil {
		for i := range w {
			w[i] -= lr*gw[i]/n + lr*decay*w[i]
		}
		for i := range b {
			b[i] -= lr * gb[i] / n
		}
		return nil
	}

	mu := s.cfg.Momentum
	st := s.velocity.layers[index]
	vw, vb := st.w[0], st.b[0]
	for i := range w {
		vw[i] = mu*vw[i] + gw[i]/n + decay*w[i]
		w[i] -= lr * vw[i]
	}
	for i := range b {
		vb[i] = mu*vb[i] + gb[i]/n
		b[i] -= lr * vb[i]
	}
	return nil
}
