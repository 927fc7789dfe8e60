// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package graph builds computation graphs out of nn layers and runs their
// forward and backward passes.
//
// # Topologies
//
// Besides linear stacks (Sequential), a Builder assembles:
//   - Sum nodes adding the activations of several parents
//   - DepthConcatenation nodes stacking volumes along the channels
//   - training branches ending in auxiliary outputs that only take part
//     in training
//
// Example (a residual block):
//
//	b := graph.NewBuilder(tensor.Linear(64))
//	h := b.Layer(b.Input(), nn.FullyConnected(64, activation.ReLU))
//	r := b.Layer(h, nn.FullyConnected(64, activation.Identity))
//	s := b.Sum(activation.ReLU, h, r)
//	b.Output(s, nn.Softmax(10))
//	g, err := b.Build()
//
// # Training
//
// Graph.Backpropagate runs one batch through the graph and hands the
// gradients of every weighted layer to an Updater, such as the ones
// created by the optim package.
package graph

import (
	"github.com/born-ml/graphnet/backend"
	"github.com/born-ml/graphnet/backend/cpu"
	"github.com/born-ml/graphnet/internal/graph"
	"github.com/born-ml/graphnet/nn"
	"github.com/born-ml/graphnet/tensor"
)

// Graph is a validated computation graph.
type Graph = graph.Graph

// Builder assembles a graph node by node.
type Builder = graph.Builder

// Node is a vertex of a graph.
type Node = graph.Node

// Kind is the role of a node.
type Kind = graph.Kind

// Node kinds.
const (
	Input              = graph.Input
	Processing         = graph.Processing
	Sum                = graph.Sum
	DepthConcatenation = graph.DepthConcatenation
	TrainingBranch     = graph.TrainingBranch
	Output             = graph.Output
)

// Updater applies one optimization step to a weighted layer.
type Updater = graph.Updater

// Step is the outcome of one training batch.
type Step = graph.Step

// Gradients holds the per layer gradients of one batch.
type Gradients = graph.Gradients

// Option configures a graph.
type Option = graph.Option

// ErrInvalidGraph is matched by errors.Is for malformed graphs.
var ErrInvalidGraph = graph.ErrInvalidGraph

// NewBuilder starts a graph whose input entities are described by info.
func NewBuilder(info tensor.Info, opts ...Option) *Builder {
	return graph.NewBuilder(info, opts...)
}

// Sequential builds a linear stack ending with the last factory as output.
func Sequential(info tensor.Info, factories ...nn.Factory) (*Graph, error) {
	return graph.Sequential(info, factories...)
}

// WithBackend sets the backend used by the merge nodes.
func WithBackend(b backend.Backend) Option { return graph.WithBackend(b) }

// WithParallel bounds the number of layers updated concurrently.
func WithParallel(cfg cpu.Config) Option { return graph.WithParallel(cfg) }
