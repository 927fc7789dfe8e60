package graph

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/graphnet/internal/nn"
	"github.com/born-ml/graphnet/internal/parallel"
	"github.com/born-ml/graphnet/internal/tensor"
)

// activity is what a node produced during a pass.
type activity struct {
	z    *tensor.Tensor // nil for the input and training branches
	a    *tensor.Tensor
	mask *tensor.Tensor // dropout mask, training only
}

// pass holds the state of one traversal of the graph.
type pass struct {
	g        *Graph
	training bool
	dropout  float64
	rng      *rand.Rand

	acts    []activity
	pending []int // merge nodes: parents not computed yet
	users   []int // inference: children still needing the activation

	// backward only
	deltas []*tensor.Tensor
	counts []int
	grads  []gradient
}

func (g *Graph) newPass(training bool, dropout float64, rng *rand.Rand) *pass {
	p := &pass{
		g:        g,
		training: training,
		dropout:  dropout,
		rng:      rng,
		acts:     make([]activity, len(g.nodes)),
		pending:  make([]int, len(g.nodes)),
		users:    make([]int, len(g.nodes)),
	}
	for _, n := range g.nodes {
		if n.kind.IsMerge() {
			p.pending[n.index] = len(n.parents)
		}
		for _, c := range n.children {
			if training || c.kind != TrainingBranch {
				p.users[n.index]++
			}
		}
	}
	return p
}

// run computes every reachable node from x. x is borrowed and never freed.
func (p *pass) run(x *tensor.Tensor) error {
	p.acts[p.g.input.index].a = x
	return p.visitChildren(p.g.input)
}

func (p *pass) visitChildren(n *Node) error {
	for _, c := range n.children {
		if c.kind == TrainingBranch && !p.training {
			continue
		}
		if c.kind.IsMerge() {
			p.pending[c.index]--
			if p.pending[c.index] > 0 {
				continue
			}
		}
		if err := p.compute(c); err != nil {
			return fmt.Errorf("%s: %w", c, err)
		}
		if !p.training {
			for _, parent := range c.parents {
				p.release(parent)
			}
		}
		if err := p.visitChildren(c); err != nil {
			return err
		}
	}
	return nil
}

func (p *pass) compute(n *Node) error {
	act := &p.acts[n.index]
	be := p.g.backend

	switch n.kind {
	case Processing, Output:
		x := p.acts[n.parents[0].index].a
		var err error
		if tf, ok := n.layer.(nn.TrainingForwarder); ok && p.training {
			act.z, act.a, err = tf.ForwardTraining(x)
		} else {
			act.z, act.a, err = n.layer.Forward(x)
		}
		if err != nil {
			return err
		}
		if p.training && n.dropoutable && p.dropout > 0 {
			act.mask = p.dropoutMask(act.a)
			multiply(act.a, act.mask, p.g.cfg)
		}
		return nil

	case Sum:
		inputs := make([]*tensor.Tensor, len(n.parents))
		for i, parent := range n.parents {
			inputs[i] = p.acts[parent.index].a
		}
		act.z = tensor.Like(inputs[0])
		if err := be.SumForward(inputs, act.z); err != nil {
			return err
		}
		if n.prime == nil {
			act.a = act.z.Duplicate()
			return nil
		}
		act.a = tensor.Like(act.z)
		return be.ActivationForward(act.z, n.f, act.a)

	case DepthConcatenation:
		inputs := make([]*tensor.Tensor, len(n.parents))
		for i, parent := range n.parents {
			inputs[i] = p.acts[parent.index].a
		}
		act.z = tensor.MustNew(inputs[0].Entities(), n.info.Size())
		if err := be.DepthConcatenationForward(inputs, act.z); err != nil {
			return err
		}
		act.a = act.z.Duplicate()
		return nil

	case TrainingBranch:
		act.a = p.acts[n.parents[0].index].a.Duplicate()
		return nil

	case Input:
		panic(fmt.Sprintf("graph: input node %s cannot be computed", n))
	default:
		panic(fmt.Sprintf("graph: unsupported node kind %s", n.kind))
	}
}

// dropoutMask draws an inverted dropout mask shaped like a: every value is
// dropped with probability p.dropout, survivors are scaled by 1/(1-p).
func (p *pass) dropoutMask(a *tensor.Tensor) *tensor.Tensor {
	mask := tensor.Like(a)
	keep := float32(1 / (1 - p.dropout))
	data := mask.Data()
	for i := range data {
		if p.rng.Float64() >= p.dropout {
			data[i] = keep
		}
	}
	return mask
}

// multiply scales x by mask in place, elementwise.
func multiply(x, mask *tensor.Tensor, cfg parallel.Config) {
	parallel.For(x.Entities(), func(i int) {
		row, m := x.Row(i), mask.Row(i)
		for j := range row {
			row[j] *= m[j]
		}
	}, cfg)
}

// release drops one use of the activation of n and frees it once no
// inference child needs it anymore.
func (p *pass) release(n *Node) {
	p.users[n.index]--
	if p.users[n.index] > 0 || n.kind == Input {
		return
	}
	p.freeActivity(n.index)
}

func (p *pass) freeActivity(i int) {
	act := &p.acts[i]
	for _, t := range []*tensor.Tensor{act.z, act.a, act.mask} {
		if t != nil {
			t.Free()
		}
	}
	*act = activity{}
}

// free releases every tensor still held by the pass.
func (p *pass) free() {
	for i := range p.acts {
		if i == p.g.input.index {
			p.acts[i] = activity{}
			continue
		}
		p.freeActivity(i)
	}
	for i, d := range p.deltas {
		if d != nil {
			d.Free()
			p.deltas[i] = nil
		}
	}
	for i := range p.grads {
		p.grads[i].free()
	}
}
