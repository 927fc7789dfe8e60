package graph

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/born-ml/graphnet/internal/cost"
	"github.com/born-ml/graphnet/internal/nn"
	"github.com/born-ml/graphnet/internal/parallel"
	"github.com/born-ml/graphnet/internal/tensor"
)

// Step summarizes one training step on a batch.
type Step struct {
	Cost         float32 // primary output cost, averaged over the batch
	TrainingCost float32 // summed costs of the training outputs, averaged over the batch
	Correct      int     // correctly classified entities
	Samples      int
}

type gradient struct {
	w, b *tensor.Tensor
}

func (g *gradient) free() {
	if g.w != nil {
		g.w.Free()
	}
	if g.b != nil {
		g.b.Free()
	}
	*g = gradient{}
}

// Gradients holds the parameter gradients of every weighted layer, in the
// order of Graph.WeightedLayers. Gradients are summed over the batch.
type Gradients struct {
	Weights []*tensor.Tensor
	Biases  []*tensor.Tensor
}

// Free releases every gradient tensor.
func (gr *Gradients) Free() {
	for i := range gr.Weights {
		gr.Weights[i].Free()
		gr.Biases[i].Free()
	}
	gr.Weights, gr.Biases = nil, nil
}

// Backpropagate runs one training step on the batch (x, y): a training
// forward pass with the given dropout probability, a backward pass from the
// primary output and every training output, then one updater call per
// weighted layer. rng draws the dropout masks and may be nil when dropout
// is 0.
func (g *Graph) Backpropagate(x, y *tensor.Tensor, dropout float64, rng *rand.Rand, updater Updater) (Step, error) {
	if dropout < 0 || dropout >= 1 {
		return Step{}, fmt.Errorf("graph: dropout %v out of [0, 1)", dropout)
	}
	if dropout > 0 && rng == nil {
		return Step{}, fmt.Errorf("graph: dropout %v requires a random source", dropout)
	}
	p, step, err := g.backward(x, y, dropout, rng)
	if err != nil {
		return Step{}, err
	}
	defer p.free()

	err = parallel.ForEach(context.Background(), len(g.weighted), func(_ context.Context, i int) error {
		layer := g.weighted[i].layer.(nn.WeightedLayer)
		if err := updater.Update(i, p.grads[i].w, p.grads[i].b, step.Samples, layer); err != nil {
			return fmt.Errorf("update %s: %w", g.weighted[i], err)
		}
		return nil
	}, g.cfg)
	if err != nil {
		return Step{}, err
	}
	return step, nil
}

// Gradients computes the parameter gradients of the batch without updating
// the graph. Dropout is disabled. The caller owns the returned gradients.
func (g *Graph) Gradients(x, y *tensor.Tensor) (*Gradients, Step, error) {
	p, step, err := g.backward(x, y, 0, nil)
	if err != nil {
		return nil, Step{}, err
	}
	defer p.free()

	gr := &Gradients{
		Weights: make([]*tensor.Tensor, len(p.grads)),
		Biases:  make([]*tensor.Tensor, len(p.grads)),
	}
	for i := range p.grads {
		gr.Weights[i], gr.Biases[i] = p.grads[i].w, p.grads[i].b
		p.grads[i] = gradient{}
	}
	return gr, step, nil
}

// backward runs the training forward and backward passes. On success the
// returned pass holds the gradients and must be freed by the caller.
func (g *Graph) backward(x, y *tensor.Tensor, dropout float64, rng *rand.Rand) (*pass, Step, error) {
	if err := g.checkBatch(x, y); err != nil {
		return nil, Step{}, err
	}
	p := g.newPass(true, dropout, rng)
	p.deltas = make([]*tensor.Tensor, len(g.nodes))
	p.counts = make([]int, len(g.nodes))
	p.grads = make([]gradient, len(g.weighted))

	step, err := p.train(x, y)
	if err != nil {
		p.free()
		return nil, Step{}, err
	}
	return p, step, nil
}

func (p *pass) train(x, y *tensor.Tensor) (Step, error) {
	if err := p.run(x); err != nil {
		return Step{}, err
	}

	out := p.g.output
	yHat := p.acts[out.index].a
	c, err := out.layer.(nn.CostLayer).Evaluate(yHat, y)
	if err != nil {
		return Step{}, err
	}
	correct, err := cost.Accuracy(yHat, y)
	if err != nil {
		return Step{}, err
	}

	step := Step{Cost: c, Correct: correct, Samples: x.Entities()}
	for _, o := range append([]*Node{out}, p.g.trainingOutputs...) {
		if o != out {
			tc, err := o.layer.(nn.CostLayer).Evaluate(p.acts[o.index].a, y)
			if err != nil {
				return Step{}, fmt.Errorf("%s: %w", o, err)
			}
			step.TrainingCost += tc
		}
		delta, err := p.outputDelta(o, y)
		if err != nil {
			return Step{}, fmt.Errorf("%s: %w", o, err)
		}
		if err := p.propagate(o, delta); err != nil {
			return Step{}, err
		}
	}
	return step, nil
}

// outputDelta computes the delta and the gradients of an output node.
func (p *pass) outputDelta(o *Node, y *tensor.Tensor) (*tensor.Tensor, error) {
	act := &p.acts[o.index]
	x := p.acts[o.parents[0].index].a
	delta, dw, db, err := o.layer.(nn.CostLayer).BackpropagateOutput(x, act.a, y, act.z)
	if err != nil {
		return nil, err
	}
	act.z = nil // consumed into delta
	p.grads[o.weighted] = gradient{w: dw, b: db}
	return delta, nil
}

// propagate hands the complete delta of n to its parents. A parent is
// propagated in turn once every one of its children has contributed.
// delta is owned by propagate.
func (p *pass) propagate(n *Node, delta *tensor.Tensor) error {
	defer func() {
		delta.Free()
		p.freeActivity(n.index)
	}()

	act := &p.acts[n.index]
	if act.mask != nil {
		multiply(delta, act.mask, p.g.cfg)
	}
	if n.kind == Processing && n.weighted >= 0 {
		x := p.acts[n.parents[0].index].a
		dw, db, err := n.layer.(nn.WeightedLayer).ComputeGradient(x, delta)
		if err != nil {
			return fmt.Errorf("%s: %w", n, err)
		}
		p.grads[n.weighted] = gradient{w: dw, b: db}
	}

	for i, parent := range n.parents {
		if parent.kind == Input {
			continue
		}
		c, err := p.contribution(n, i, delta)
		if err != nil {
			return fmt.Errorf("%s: %w", n, err)
		}
		if err := p.accumulate(parent, c); err != nil {
			return err
		}
		p.counts[parent.index]++
		if p.counts[parent.index] == len(parent.children) {
			d := p.deltas[parent.index]
			p.deltas[parent.index] = nil
			if err := p.propagate(parent, d); err != nil {
				return err
			}
		}
	}
	return nil
}

// contribution computes the part of the delta of the i-th parent of n
// coming through n, scaled by the derivative of the parent activation.
func (p *pass) contribution(n *Node, i int, delta *tensor.Tensor) (*tensor.Tensor, error) {
	parent := n.parents[i]
	pa := &p.acts[parent.index]
	be := p.g.backend

	switch n.kind {
	case Processing, Output:
		var buf *tensor.Tensor
		switch {
		case parent.prime == nil:
			buf = tensor.Like(pa.a)
		case len(parent.children) == 1:
			buf = pa.z
			pa.z = nil
		default:
			buf = pa.z.Duplicate()
		}
		c, err := n.layer.Backpropagate(pa.a, delta, buf, parent.prime)
		if err != nil {
			buf.Free()
			return nil, err
		}
		return c, nil

	case Sum, TrainingBranch:
		if parent.prime == nil {
			return delta.Duplicate(), nil
		}
		dx := tensor.Like(delta)
		if err := be.ActivationBackward(pa.z, delta, parent.prime, dx); err != nil {
			dx.Free()
			return nil, err
		}
		return dx, nil

	case DepthConcatenation:
		dx := tensor.Like(pa.a)
		if err := be.DepthConcatenationBackward(delta, n.offsets[i], dx); err != nil {
			dx.Free()
			return nil, err
		}
		if parent.prime != nil {
			if err := be.ActivationBackward(pa.z, dx, parent.prime, dx); err != nil {
				dx.Free()
				return nil, err
			}
		}
		return dx, nil

	case Input:
		panic(fmt.Sprintf("graph: input node %s has no parents", n))
	default:
		panic(fmt.Sprintf("graph: unsupported node kind %s", n.kind))
	}
}

// accumulate adds c into the pending delta of n, taking ownership of c.
func (p *pass) accumulate(n *Node, c *tensor.Tensor) error {
	d := p.deltas[n.index]
	if d == nil {
		p.deltas[n.index] = c
		return nil
	}
	defer c.Free()
	return p.g.backend.SumForward([]*tensor.Tensor{d, c}, d)
}
