package graph

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/born-ml/graphnet/internal/activation"
	"github.com/born-ml/graphnet/internal/backend"
	"github.com/born-ml/graphnet/internal/backend/cpu"
	"github.com/born-ml/graphnet/internal/nn"
	"github.com/born-ml/graphnet/internal/parallel"
	"github.com/born-ml/graphnet/internal/tensor"
)

// ErrInvalidGraph is returned (wrapped) by Builder.Build for malformed graphs.
var ErrInvalidGraph = errors.New("invalid graph")

// Option configures a graph.
type Option func(*Graph)

// WithBackend sets the backend used by the merge nodes.
func WithBackend(b backend.Backend) Option {
	return func(g *Graph) { g.backend = b }
}

// WithParallel sets the parallel configuration used to apply the updater
// across layers.
func WithParallel(cfg parallel.Config) Option {
	return func(g *Graph) { g.cfg = cfg }
}

// Builder assembles a graph node by node.
//
// A node can only reference nodes built before it, which keeps the graph
// acyclic. The first error is latched: later calls are ignored and Build
// returns it.
//
// Example:
//
//	b := graph.NewBuilder(tensor.Linear(784))
//	h := b.Layer(b.Input(), nn.FullyConnected(30, activation.Sigmoid))
//	b.Output(h, nn.Output(10, activation.Sigmoid, cost.CrossEntropy))
//	g, err := b.Build()
type Builder struct {
	nodes []*Node
	opts  []Option
	err   error
}

// NewBuilder starts a graph whose input entities are described by info.
func NewBuilder(info tensor.Info, opts ...Option) *Builder {
	b := &Builder{opts: opts}
	if err := info.Validate(); err != nil {
		b.err = &nn.ConfigError{Layer: "input", Details: err.Error()}
	}
	b.add(&Node{kind: Input, info: info})
	return b
}

// Input returns the input node.
func (b *Builder) Input() *Node {
	return b.nodes[0]
}

func (b *Builder) add(n *Node) *Node {
	n.id = uuid.New()
	n.index = len(b.nodes)
	n.weighted = -1
	for _, p := range n.parents {
		p.children = append(p.children, n)
	}
	b.nodes = append(b.nodes, n)
	return n
}

func (b *Builder) fail(format string, args ...any) *Node {
	if b.err == nil {
		b.err = fmt.Errorf("%w: %s", ErrInvalidGraph, fmt.Sprintf(format, args...))
	}
	return nil
}

// checkParents verifies that parents belong to this builder and can have children.
func (b *Builder) checkParents(kind Kind, parents []*Node) bool {
	for _, p := range parents {
		if p == nil || p.index >= len(b.nodes) || b.nodes[p.index] != p {
			b.fail("%s: parent does not belong to this graph", kind)
			return false
		}
		if p.kind == Output {
			b.fail("%s: output node %s cannot have children", kind, p)
			return false
		}
	}
	return true
}

func (b *Builder) buildLayer(kind Kind, parent *Node, factory nn.Factory) nn.Layer {
	layer, err := factory(parent.info)
	if err != nil {
		if b.err == nil {
			b.err = fmt.Errorf("%s node below %s: %w", kind, parent, err)
		}
		return nil
	}
	if layer.InputInfo() != parent.info {
		b.fail("%s: layer expects %s, parent produces %s", kind, layer.InputInfo(), parent.info)
		return nil
	}
	return layer
}

// Layer adds a processing node running the layer built by factory.
func (b *Builder) Layer(parent *Node, factory nn.Factory) *Node {
	if b.err != nil || !b.checkParents(Processing, []*Node{parent}) {
		return nil
	}
	layer := b.buildLayer(Processing, parent, factory)
	if layer == nil {
		return nil
	}
	if _, ok := layer.(nn.CostLayer); ok {
		return b.fail("processing: %s layers must be added with Output", layer.Type())
	}
	_, fc := layer.(*nn.FullyConnectedLayer)
	return b.add(&Node{
		kind:        Processing,
		info:        layer.OutputInfo(),
		layer:       layer,
		prime:       derivative(layer.Activation()),
		parents:     []*Node{parent},
		branch:      parent.branch,
		dropoutable: fc,
	})
}

// Output adds an output node. The layer built by factory must carry a cost.
//
// The output reached without crossing a TrainingBranch is the primary
// output; outputs below training branches are auxiliary and only
// contribute gradients during training.
func (b *Builder) Output(parent *Node, factory nn.Factory) *Node {
	if b.err != nil || !b.checkParents(Output, []*Node{parent}) {
		return nil
	}
	layer := b.buildLayer(Output, parent, factory)
	if layer == nil {
		return nil
	}
	if _, ok := layer.(nn.CostLayer); !ok {
		return b.fail("output: %s layer has no cost function", layer.Type())
	}
	return b.add(&Node{
		kind:    Output,
		info:    layer.OutputInfo(),
		layer:   layer,
		parents: []*Node{parent},
		branch:  parent.branch,
	})
}

// Sum adds a node summing its parents elementwise, then applying act.
// All parents must have the same shape.
func (b *Builder) Sum(act activation.Kind, parents ...*Node) *Node {
	if b.err != nil || !b.checkMerge(Sum, parents) {
		return nil
	}
	for _, p := range parents[1:] {
		if p.info != parents[0].info {
			return b.fail("sum: parent shapes %s and %s differ", parents[0].info, p.info)
		}
	}
	f, _, err := activation.Functions(act)
	if err != nil {
		return b.fail("sum: %v", err)
	}
	return b.add(&Node{
		kind:    Sum,
		info:    parents[0].info,
		act:     act,
		f:       f,
		prime:   derivative(act),
		parents: append([]*Node(nil), parents...),
		branch:  parents[0].branch,
	})
}

// DepthConcatenation adds a node stacking the outputs of its parents.
//
// Linear parents are concatenated into a linear output; volumes must share
// height and width and have their channels stacked.
func (b *Builder) DepthConcatenation(parents ...*Node) *Node {
	if b.err != nil || !b.checkMerge(DepthConcatenation, parents) {
		return nil
	}
	offsets := make([]int, len(parents))
	size, channels := 0, 0
	linear := true
	for i, p := range parents {
		offsets[i] = size
		size += p.info.Size()
		channels += p.info.Channels
		linear = linear && p.info.IsLinear()
	}

	var info tensor.Info
	if linear {
		info = tensor.Linear(size)
	} else {
		first := parents[0].info
		for _, p := range parents[1:] {
			if p.info.Height != first.Height || p.info.Width != first.Width {
				return b.fail("depth concatenation: parent shapes %s and %s differ in height or width", first, p.info)
			}
		}
		info = tensor.Volume(first.Height, first.Width, channels)
	}
	return b.add(&Node{
		kind:    DepthConcatenation,
		info:    info,
		act:     activation.Identity,
		parents: append([]*Node(nil), parents...),
		offsets: offsets,
		branch:  parents[0].branch,
	})
}

func (b *Builder) checkMerge(kind Kind, parents []*Node) bool {
	if len(parents) < 2 {
		b.fail("%s: needs at least 2 parents, got %d", kind, len(parents))
		return false
	}
	if !b.checkParents(kind, parents) {
		return false
	}
	for _, p := range parents[1:] {
		if p.branch != parents[0].branch {
			b.fail("%s: cannot merge training branch nodes with inference nodes", kind)
			return false
		}
	}
	return true
}

// TrainingBranch adds a node forwarding a copy of its parent activation to
// an auxiliary subgraph that only runs during training.
func (b *Builder) TrainingBranch(parent *Node) *Node {
	if b.err != nil || !b.checkParents(TrainingBranch, []*Node{parent}) {
		return nil
	}
	return b.add(&Node{
		kind:    TrainingBranch,
		info:    parent.info,
		act:     activation.Identity,
		parents: []*Node{parent},
		branch:  true,
	})
}

// Build validates the graph and returns it.
func (b *Builder) Build() (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}

	g := &Graph{nodes: b.nodes, input: b.nodes[0], cfg: parallel.DefaultConfig()}
	for _, opt := range b.opts {
		opt(g)
	}
	if g.backend == nil {
		g.backend = cpu.New()
	}

	for _, n := range b.nodes {
		if len(n.children) == 0 && n.kind != Output {
			return nil, fmt.Errorf("%w: %s is a terminal node but not an output", ErrInvalidGraph, n)
		}
		switch n.kind {
		case Output:
			if n.branch {
				g.trainingOutputs = append(g.trainingOutputs, n)
			} else if g.output == nil {
				g.output = n
			} else {
				return nil, fmt.Errorf("%w: more than one primary output (%s, %s)", ErrInvalidGraph, g.output, n)
			}
		case TrainingBranch:
			if n.parents[0].branch {
				return nil, fmt.Errorf("%w: nested training branch %s", ErrInvalidGraph, n)
			}
		case Input, Processing, Sum, DepthConcatenation:
		default:
			panic(fmt.Sprintf("graph: unsupported node kind %s", n.kind))
		}
		if _, ok := n.layer.(nn.WeightedLayer); ok {
			n.weighted = len(g.weighted)
			g.weighted = append(g.weighted, n)
		}
	}
	if g.output == nil {
		return nil, fmt.Errorf("%w: no primary output", ErrInvalidGraph)
	}
	for _, o := range g.trainingOutputs {
		if o.info != g.output.info {
			return nil, fmt.Errorf("%w: training output %s does not match primary output %s", ErrInvalidGraph, o, g.output)
		}
	}

	slog.Debug("graph built", "nodes", len(g.nodes), "weighted", len(g.weighted),
		"training_outputs", len(g.trainingOutputs), "parameters", g.Parameters())
	return g, nil
}

// Sequential builds a linear stack: every factory but the last becomes a
// processing node, the last one the output node.
func Sequential(info tensor.Info, factories ...nn.Factory) (*Graph, error) {
	if len(factories) == 0 {
		return nil, fmt.Errorf("%w: no layers", ErrInvalidGraph)
	}
	b := NewBuilder(info)
	n := b.Input()
	for _, f := range factories[:len(factories)-1] {
		n = b.Layer(n, f)
	}
	b.Output(n, factories[len(factories)-1])
	return b.Build()
}

func derivative(act activation.Kind) activation.Func {
	if act == activation.Identity {
		return nil
	}
	prime, err := activation.Derivative(act)
	if err != nil {
		return nil
	}
	return prime
}
