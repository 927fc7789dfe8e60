package optim

import (
	"fmt"

	"github.com/born-ml/graphnet/internal/nn"
	"github.com/born-ml/graphnet/internal/tensor"
)

// AdaMaxConfig configures AdaMax, the infinity norm variant of Adam.
//
// Update rule:
//
//	m = beta1 * m + (1-beta1) * g
//	u = max(beta2 * u, |g|)
//	w = w - (lr / (1 - beta1^t)) * m / u
//
// Values whose u is still 0 (no gradient seen yet) are left untouched.
type AdaMaxConfig struct {
	LearningRate float32 // default: 0.002
	Beta1        float32 // default: 0.9
	Beta2        float32 // default: 0.999
}

func (c AdaMaxConfig) withDefaults() AdaMaxConfig {
	if c.LearningRate == 0 {
		c.LearningRate = 0.002
	}
	if c.Beta1 == 0 {
		c.Beta1 = 0.9
	}
	if c.Beta2 == 0 {
		c.Beta2 = 0.999
	}
	return c
}

// String implements fmt.Stringer.
func (c AdaMaxConfig) String() string {
	c = c.withDefaults()
	return fmt.Sprintf("adamax(lr=%g, beta1=%g, beta2=%g)", c.LearningRate, c.Beta1, c.Beta2)
}

// New returns an AdaMax updater for layers.
func (c AdaMaxConfig) New(layers []nn.WeightedLayer) (Updater, error) {
	c = c.withDefaults()
	adam := AdamConfig{LearningRate: c.LearningRate, Beta1: c.Beta1, Beta2: c.Beta2}
	if err := adam.validate("adamax"); err != nil {
		return nil, err
	}
	return &AdaMax{
		cfg:    c,
		shapes: shapesOf(layers),
		state:  newArena(layers, 2),
		powers: newPowers(len(layers)),
	}, nil
}

// AdaMax is the AdaMax updater. State slot 0 holds m, slot 1 u.
type AdaMax struct {
	cfg    AdaMaxConfig
	shapes []shape
	state  *arena
	powers powers
}

// Update implements Updater.
func (a *AdaMax) Update(index int, dJdw, dJdb *tensor.Tensor, samples int, layer nn.WeightedLayer) error {
	if err := checkUpdate("adamax", a.shapes, index, dJdw, dJdb, samples, layer); err != nil {
		return err
	}
	b1t, _ := a.powers.advance(index, a.cfg.Beta1, a.cfg.Beta2)
	alpha := a.cfg.LearningRate / float32(1-b1t)

	st := a.state.layers[index]
	a.step(layer.Weights().Data(), dJdw.Data(), st.w[0], st.w[1], alpha)
	a.step(layer.Biases().Data(), dJdb.Data(), st.b[0], st.b[1], alpha)
	return nil
}

func (a *AdaMax) step(w, g, m, u []float32, alpha float32) {
	beta1, beta2 := a.cfg.Beta1, a.cfg.Beta2
	for i := range w {
		m[i] = beta1*m[i] + (1-beta1)*g[i]
		u[i] = max(beta2*u[i], abs(g[i]))
		if u[i] == 0 {
			continue
		}
		w[i] -= alpha * m[i] / u[i]
	}
}

func abs(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}
