// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the pure Go backend of graphnet.
//
// # Overview
//
// Every primitive splits its work across goroutines by entity or by output
// channel. The split is bounded by a Config:
//
//	be := cpu.NewWithConfig(cpu.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 8})
//
// # Usage
//
//	b := graph.NewBuilder(tensor.Linear(784), graph.WithBackend(cpu.New()))
//
// Layers default to a shared cpu backend, so passing one explicitly is only
// needed to tune the parallelism.
package cpu
