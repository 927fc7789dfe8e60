// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides the layers of graphnet graphs.
//
// # Overview
//
// Layers are created by factories that receive the shape of their input
// when the graph is built:
//   - FullyConnected: dense layer with optional dropout during training
//   - Convolutional: 2D convolution over volumes
//   - Pooling: max pooling over volumes
//   - BatchNormalization: per activation or spatial normalization
//   - Output and Softmax: output layers carrying a cost function
//
// # Basic Usage
//
//	g, err := graph.Sequential(tensor.Volume(28, 28, 1),
//	    nn.Convolutional(backend.KernelInfo{Height: 5, Width: 5, Count: 20},
//	        backend.DefaultConvolution, activation.ReLU),
//	    nn.Pooling(backend.PoolingInfo{Size: 2, Stride: 2}),
//	    nn.FullyConnected(100, activation.ReLU),
//	    nn.Softmax(10),
//	)
//
// # Initialization
//
// Weights are drawn with GlorotUniform unless WithInitialization selects
// another scheme; WithRand makes the draw reproducible.
package nn
