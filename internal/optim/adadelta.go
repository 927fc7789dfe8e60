package optim

import (
	"fmt"
	"math"

	"github.com/born-ml/graphnet/internal/nn"
	"github.com/born-ml/graphnet/internal/tensor"
)

// AdadeltaConfig configures Adadelta.
//
// Update rule, per value:
//
//	E[g²]  = rho * E[g²] + (1-rho) * g²
//	delta  = -sqrt(E[dx²] + eps) / sqrt(E[g²] + eps) * g
//	E[dx²] = rho * E[dx²] + (1-rho) * delta²
//	w      = w + delta - lambda * w
//
// Biases follow the same rule without the decay term.
//
// Reference: "ADADELTA: An Adaptive Learning Rate Method" (Zeiler, 2012)
type AdadeltaConfig struct {
	Rho         float32 // decay rate (default: 0.95)
	Epsilon     float32 // default: 1e-8
	WeightDecay float32 // L2 factor lambda (default: 0)
}

func (c AdadeltaConfig) withDefaults() AdadeltaConfig {
	if c.Rho == 0 {
		c.Rho = 0.95
	}
	if c.Epsilon == 0 {
		c.Epsilon = 1e-8
	}
	return c
}

// String implements fmt.Stringer.
func (c AdadeltaConfig) String() string {
	c = c.withDefaults()
	return fmt.Sprintf("adadelta(rho=%g, eps=%g, lambda=%g)", c.Rho, c.Epsilon, c.WeightDecay)
}

// New returns an Adadelta updater for layers.
func (c AdadeltaConfig) New(layers []nn.WeightedLayer) (Updater, error) {
	c = c.withDefaults()
	if err := checkRange("adadelta", "rho", c.Rho, 0, 1); err != nil {
		return nil, err
	}
	if c.Epsilon < 0 || c.WeightDecay < 0 {
		return nil, fmt.Errorf("adadelta: negative hyperparameter in %s", c)
	}
	return &Adadelta{cfg: c, shapes: shapesOf(layers), state: newArena(layers, 2)}, nil
}

// Adadelta is the Adadelta updater. State slot 0 holds E[g²], slot 1 E[dx²].
type Adadelta struct {
	cfg    AdadeltaConfig
	shapes []shape
	state  *arena
}

// Update implements Updater.
func (a *Adadelta) Update(index int, dJdw, dJdb *tensor.Tensor, samples int, layer nn.WeightedLayer) error {
	if err := checkUpdate("adadelta", a.shapes, index, dJdw, dJdb, samples, layer); err != nil {
		return err
	}
	st := a.state.layers[index]
	a.step(layer.Weights().Data(), dJdw.Data(), st.w[0], st.w[1], a.cfg.WeightDecay)
	a.step(layer.Biases().Data(), dJdb.Data(), st.b[0], st.b[1], 0)
	return nil
}

func (a *Adadelta) step(w, g, eg, edx []float32, decay float32) {
	rho, eps := a.cfg.Rho, a.cfg.Epsilon
	for i := range w {
		eg[i] = rho*eg[i] + (1-rho)*g[i]*g[i]
		delta := -sqrt(edx[i]+eps) / sqrt(eg[i]+eps) * g[i]
		edx[i] = rho*edx[i] + (1-rho)*delta*delta
		w[i] += delta - decay*w[i]
	}
}

func sqrt(x float32) float32 {
	return float32(math.Sqrt(float64(x)))
}
