package optim

import (
	"fmt"

	"github.com/born-ml/graphnet/internal/nn"
	"github.com/born-ml/graphnet/internal/tensor"
)

// AdamConfig configures Adam (Adaptive Moment Estimation).
//
// Update rule, with t the number of updates of the layer:
//
//	m       = beta1 * m + (1-beta1) * g
//	v       = beta2 * v + (1-beta2) * g²
//	alpha_t = lr * sqrt(1 - beta2^t) / (1 - beta1^t)
//	w       = w - alpha_t * m / (sqrt(v) + eps)
//
// Reference: "Adam: A Method for Stochastic Optimization" (Kingma & Ba, 2014)
//
// Example:
//
//	updater, _ := optim.AdamConfig{LearningRate: 0.001}.New(g.WeightedLayers())
type AdamConfig struct {
	LearningRate float32 // default: 0.001
	Beta1        float32 // default: 0.9
	Beta2        float32 // default: 0.999
	Epsilon      float32 // default: 1e-8
}

func (c AdamConfig) withDefaults() AdamConfig {
	if c.LearningRate == 0 {
		c.LearningRate = 0.001
	}
	if c.Beta1 == 0 {
		c.Beta1 = 0.9
	}
	if c.Beta2 == 0 {
		c.Beta2 = 0.999
	}
	if c.Epsilon == 0 {
		c.Epsilon = 1e-8
	}
	return c
}

// String implements fmt.Stringer.
func (c AdamConfig) String() string {
	c = c.withDefaults()
	return fmt.Sprintf("adam(lr=%g, beta1=%g, beta2=%g, eps=%g)", c.LearningRate, c.Beta1, c.Beta2, c.Epsilon)
}

func (c AdamConfig) validate(name string) error {
	if err := checkRange(name, "beta1", c.Beta1, 0, 1); err != nil {
		return err
	}
	if err := checkRange(name, "beta2", c.Beta2, 0, 1); err != nil {
		return err
	}
	if c.LearningRate < 0 || c.Epsilon < 0 {
		return fmt.Errorf("%s: negative hyperparameter", name)
	}
	return nil
}

// New returns an Adam updater for layers.
func (c AdamConfig) New(layers []nn.WeightedLayer) (Updater, error) {
	c = c.withDefaults()
	if err := c.validate("adam"); err != nil {
		return nil, err
	}
	return &Adam{
		cfg:    c,
		shapes: shapesOf(layers),
		state:  newArena(layers, 2),
		powers: newPowers(len(layers)),
	}, nil
}

// powers tracks beta1^t and beta2^t of every layer.
type powers struct {
	beta1, beta2 []float64
}

func newPowers(n int) powers {
	p := powers{beta1: make([]float64, n), beta2: make([]float64, n)}
	for i := range p.beta1 {
		p.beta1[i], p.beta2[i] = 1, 1
	}
	return p
}

// advance moves layer i to the next time step and returns beta1^t, beta2^t.
func (p powers) advance(i int, beta1, beta2 float32) (float64, float64) {
	p.beta1[i] *= float64(beta1)
	p.beta2[i] *= float64(beta2)
	return p.beta1[i], p.beta2[i]
}

// Adam is the Adam updater. State slot 0 holds m, slot 1 v.
type Adam struct {
	cfg    AdamConfig
	shapes []shape
	state  *arena
	powers powers
}

// Update implements Updater.
func (a *Adam) Update(index int, dJdw, dJdb *tensor.Tensor, samples int, layer nn.WeightedLayer) error {
	if err := checkUpdate("adam", a.shapes, index, dJdw, dJdb, samples, layer); err != nil {
		return err
	}
	b1t, b2t := a.powers.advance(index, a.cfg.Beta1, a.cfg.Beta2)
	alpha := a.cfg.LearningRate * sqrt(float32(1-b2t)) / float32(1-b1t)

	st := a.state.layers[index]
	a.step(layer.Weights().Data(), dJdw.Data(), st.w[0], st.w[1], alpha)
	a.step(layer.Biases().Data(), dJdb.Data(), st.b[0], st.b[1], alpha)
	return nil
}

func (a *Adam) step(w, g, m, v []float32, alpha float32) {
	beta1, beta2, eps := a.cfg.Beta1, a.cfg.Beta2, a.cfg.Epsilon
	for i := range w {
		m[i] = beta1*m[i] + (1-beta1)*g[i]
		v[i] = beta2*v[i] + (1-beta2)*g[i]*g[i]
		w[i] -= alpha * m[i] / (sqrt(v[i]) + eps)
	}
}
