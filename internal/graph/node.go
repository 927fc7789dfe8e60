package graph

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/born-ml/graphnet/internal/activation"
	"github.com/born-ml/graphnet/internal/nn"
	"github.com/born-ml/graphnet/internal/tensor"
)

// Kind is the closed set of node types.
type Kind int

// Node kinds.
const (
	Input Kind = iota
	Processing
	Sum
	DepthConcatenation
	TrainingBranch
	Output
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case Input:
		return "input"
	case Processing:
		return "processing"
	case Sum:
		return "sum"
	case DepthConcatenation:
		return "depth-concatenation"
	case TrainingBranch:
		return "training-branch"
	case Output:
		return "output"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// IsMerge reports whether nodes of kind k combine several parents.
func (k Kind) IsMerge() bool {
	return k == Sum || k == DepthConcatenation
}

// Node is a vertex of the computation graph.
type Node struct {
	id    uuid.UUID
	kind  Kind
	index int
	info  tensor.Info

	// Processing and Output nodes.
	layer nn.Layer

	// Sum nodes; Identity for every other merge.
	act activation.Kind
	f   activation.Func

	// derivative of the node activation, nil for the identity
	prime activation.Func

	parents     []*Node
	children    []*Node
	offsets     []int // DepthConcatenation: offset of every parent in the output rows
	weighted    int   // index among the weighted layers, -1 if none
	branch      bool  // below a TrainingBranch
	dropoutable bool
}

// ID returns the node identifier.
func (n *Node) ID() uuid.UUID { return n.id }

// Kind returns the node kind.
func (n *Node) Kind() Kind { return n.kind }

// Info returns the shape of the node output.
func (n *Node) Info() tensor.Info { return n.info }

// Layer returns the layer of Processing and Output nodes, nil otherwise.
func (n *Node) Layer() nn.Layer { return n.layer }

// Activation returns the activation applied by the node.
func (n *Node) Activation() activation.Kind {
	if n.layer != nil {
		return n.layer.Activation()
	}
	return n.act
}

// Parents returns the parents of the node.
func (n *Node) Parents() []*Node { return append([]*Node(nil), n.parents...) }

// Children returns the children of the node.
func (n *Node) Children() []*Node { return append([]*Node(nil), n.children...) }

// InTrainingBranch reports whether the node only runs during training.
func (n *Node) InTrainingBranch() bool { return n.branch }

// String implements fmt.Stringer.
func (n *Node) String() string {
	id := n.id.String()[:8]
	if n.layer != nil {
		return fmt.Sprintf("%s(%s)%s %s", n.kind, n.layer.Type(), n.info, id)
	}
	return fmt.Sprintf("%s%s %s", n.kind, n.info, id)
}
