// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package training runs training sessions over graphnet graphs.
//
// # Mini-batch training
//
//	data, err := training.NewDataset(x, y, 32)
//	res, err := training.Train(ctx, g, data, 30, training.Options{
//	    Algorithm: optim.SGDConfig{LearningRate: 3},
//	    Sink:      training.LogSink{},
//	})
//	fmt.Println(res.StopReason)
//
// A session ends when every epoch ran, when the validation cost stops
// improving, when a parameter overflows or when ctx is canceled. These
// outcomes are reported by Result.StopReason.
//
// # Full batch training
//
// TrainLBFGS minimizes the cost over the whole dataset with the bounded
// L-BFGS optimizer, which suits graphs with few parameters.
package training

import (
	"context"

	"github.com/born-ml/graphnet/graph"
	"github.com/born-ml/graphnet/internal/training"
	"github.com/born-ml/graphnet/tensor"
)

// Batch is a pair of input and expected output tensors.
type Batch = training.Batch

// Dataset is an in-memory list of batches.
type Dataset = training.Dataset

// Options configures Train.
type Options = training.Options

// Validation enables early stopping on a held out dataset.
type Validation = training.Validation

// LBFGSOptions configures TrainLBFGS.
type LBFGSOptions = training.LBFGSOptions

// LBFGSResult summarizes a TrainLBFGS session.
type LBFGSResult = training.LBFGSResult

// Result summarizes a training session.
type Result = training.Result

// StopReason tells why a training session ended.
type StopReason = training.StopReason

// Stop reasons.
const (
	EpochsCompleted  = training.EpochsCompleted
	EarlyStopping    = training.EarlyStopping
	NumericOverflow  = training.NumericOverflow
	TrainingCanceled = training.TrainingCanceled
)

// Progress notifications.
type (
	Sink          = training.Sink
	Session       = training.Session
	BatchProgress = training.BatchProgress
	EpochReport   = training.EpochReport
	Evaluation    = training.Evaluation
	NopSink       = training.NopSink
	LogSink       = training.LogSink
)

// NewDataset splits x and y in batches of batchSize samples.
func NewDataset(x, y *tensor.Tensor, batchSize int) (*Dataset, error) {
	return training.NewDataset(x, y, batchSize)
}

// FromBatches builds a dataset over existing batches.
func FromBatches(batches ...Batch) (*Dataset, error) {
	return training.FromBatches(batches...)
}

// Train trains g on data for at most epochs epochs.
func Train(ctx context.Context, g *graph.Graph, data *Dataset, epochs int, opts Options) (*Result, error) {
	return training.Train(ctx, g, data, epochs, opts)
}

// TrainLBFGS minimizes the average cost of g over data with L-BFGS.
func TrainLBFGS(ctx context.Context, g *graph.Graph, data *Dataset, opts LBFGSOptions) (*LBFGSResult, error) {
	return training.TrainLBFGS(ctx, g, data, opts)
}

// Evaluate returns the cost and accuracy of g over d.
func Evaluate(g *graph.Graph, d *Dataset) (Evaluation, error) {
	return training.Evaluate(g, d)
}
