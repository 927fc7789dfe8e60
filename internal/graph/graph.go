// Package graph implements the computation graph driving forward and
// backward passes over arbitrary layer topologies.
//
// A graph has one Input node, processing nodes wrapping one layer each,
// merge nodes (Sum, DepthConcatenation) combining several parents, training
// branches feeding auxiliary outputs, and exactly one primary Output node.
// Nodes are stored in build order, which is a topological order.
package graph

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/born-ml/graphnet/internal/backend"
	"github.com/born-ml/graphnet/internal/cost"
	"github.com/born-ml/graphnet/internal/nn"
	"github.com/born-ml/graphnet/internal/parallel"
	"github.com/born-ml/graphnet/internal/tensor"
)

// Updater applies one optimization step to a weighted layer.
// index is the position of the layer in Graph.WeightedLayers.
type Updater interface {
	Update(index int, dJdw, dJdb *tensor.Tensor, samples int, layer nn.WeightedLayer) error
}

// Graph is a validated computation graph.
//
// A graph is not safe for concurrent use: forward and backward passes
// cache per-layer state (batch statistics) and the updater mutates the
// layer parameters between batches.
type Graph struct {
	nodes           []*Node
	input           *Node
	output          *Node
	trainingOutputs []*Node
	weighted        []*Node

	backend backend.Backend
	cfg     parallel.Config
}

// Input returns the input node.
func (g *Graph) Input() *Node { return g.input }

// Output returns the primary output node.
func (g *Graph) Output() *Node { return g.output }

// TrainingOutputs returns the auxiliary output nodes.
func (g *Graph) TrainingOutputs() []*Node { return append([]*Node(nil), g.trainingOutputs...) }

// Nodes returns every node in topological order.
func (g *Graph) Nodes() []*Node { return append([]*Node(nil), g.nodes...) }

// InputInfo returns the shape of one input entity.
func (g *Graph) InputInfo() tensor.Info { return g.input.info }

// OutputInfo returns the shape of one output entity.
func (g *Graph) OutputInfo() tensor.Info { return g.output.info }

// OutputLayer returns the layer of the primary output.
func (g *Graph) OutputLayer() nn.CostLayer { return g.output.layer.(nn.CostLayer) }

// WeightedLayers returns the weighted layers in topological order.
// Updaters index their state by this order.
func (g *Graph) WeightedLayers() []nn.WeightedLayer {
	layers := make([]nn.WeightedLayer, len(g.weighted))
	for i, n := range g.weighted {
		layers[i] = n.layer.(nn.WeightedLayer)
	}
	return layers
}

// Parameters returns the number of trainable values of the graph.
func (g *Graph) Parameters() int {
	total := 0
	for _, l := range g.WeightedLayers() {
		total += l.Parameters()
	}
	return total
}

func (g *Graph) checkBatch(x, y *tensor.Tensor) error {
	if x.Length() != g.input.info.Size() {
		return tensor.Mismatchf("graph input", "x length %d, graph expects %s", x.Length(), g.input.info)
	}
	if y == nil {
		return nil
	}
	if y.Entities() != x.Entities() || y.Length() != g.output.info.Size() {
		return tensor.Mismatchf("graph output", "y [%d, %d], want [%d, %d]", y.Entities(), y.Length(), x.Entities(), g.output.info.Size())
	}
	return nil
}

// Forward runs inference on x and returns the primary output activation,
// owned by the caller. Training branches are skipped.
func (g *Graph) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := g.checkBatch(x, nil); err != nil {
		return nil, err
	}
	p := g.newPass(false, 0, nil)
	defer p.free()

	if err := p.run(x); err != nil {
		return nil, err
	}
	out := &p.acts[g.output.index]
	yHat := out.a
	out.a = nil
	return yHat, nil
}

// Evaluate runs inference on x and returns the cost against y and the
// number of correctly classified entities.
func (g *Graph) Evaluate(x, y *tensor.Tensor) (float32, int, error) {
	if err := g.checkBatch(x, y); err != nil {
		return 0, 0, err
	}
	yHat, err := g.Forward(x)
	if err != nil {
		return 0, 0, err
	}
	defer yHat.Free()

	c, err := g.OutputLayer().Evaluate(yHat, y)
	if err != nil {
		return 0, 0, err
	}
	correct, err := cost.Accuracy(yHat, y)
	if err != nil {
		return 0, 0, err
	}
	return c, correct, nil
}

// Clone returns a structurally identical graph with deep copies of every layer.
func (g *Graph) Clone() *Graph {
	nodes := make([]*Node, len(g.nodes))
	for i, n := range g.nodes {
		c := *n
		c.id = uuid.New()
		if n.layer != nil {
			c.layer = n.layer.Clone()
		}
		c.children = nil
		c.parents = make([]*Node, len(n.parents))
		for j, p := range n.parents {
			c.parents[j] = nodes[p.index]
			nodes[p.index].children = append(nodes[p.index].children, &c)
		}
		c.offsets = append([]int(nil), n.offsets...)
		nodes[i] = &c
	}

	mapped := func(src []*Node) []*Node {
		out := make([]*Node, len(src))
		for i, n := range src {
			out[i] = nodes[n.index]
		}
		return out
	}
	return &Graph{
		nodes:           nodes,
		input:           nodes[g.input.index],
		output:          nodes[g.output.index],
		trainingOutputs: mapped(g.trainingOutputs),
		weighted:        mapped(g.weighted),
		backend:         g.backend,
		cfg:             g.cfg,
	}
}

// String returns a one line summary of the graph.
func (g *Graph) String() string {
	return fmt.Sprintf("graph %s -> %s (%d nodes, %d parameters)", g.input.info, g.output.info, len(g.nodes), g.Parameters())
}
