// Package parallel provides the bounded parallel-for used by graphnet kernels.
//
// Every helper joins all of its goroutines before returning, so callers never
// observe partially computed results.
package parallel

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/born-ml/graphnet/internal/envconfig"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Upper bound of concurrently running goroutines.
	MinChunkSize int  // Minimum items per goroutine to avoid overhead.
}

// DefaultConfig reads the worker settings from the environment.
func DefaultConfig() Config {
	n := int(envconfig.NumThreads())
	return Config{
		Enabled:      envconfig.Parallel(true) && n > 1,
		NumWorkers:   n,
		MinChunkSize: int(envconfig.MinChunk()),
	}
}

// Sequential returns a configuration that runs everything on the caller goroutine.
func Sequential() Config {
	return Config{NumWorkers: 1, MinChunkSize: 1}
}

// For executes f(i) for i in [0, n).
//
// The range is split in at most NumWorkers contiguous chunks of at least
// MinChunkSize items. f must only write to locations owned by index i.
func For(n int, f func(i int), cfg Config) {
	if n <= 0 {
		return
	}
	if !cfg.Enabled || cfg.NumWorkers <= 1 || n < 2*max(cfg.MinChunkSize, 1) {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	chunk := max((n+cfg.NumWorkers-1)/cfg.NumWorkers, cfg.MinChunkSize)

	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				f(i)
			}
		}(start, end)
	}
	wg.Wait()
}

// ForBatch iterates over the (batch, channels) grid, common in convolution
// and pooling kernels.
func ForBatch(batch, channels int, f func(b, c int), cfg Config) {
	For(batch*channels, func(k int) {
		f(k/channels, k%channels)
	}, cfg)
}

// ForEach runs f(i) for i in [0, n) with at most NumWorkers goroutines and
// returns the first error. Unlike For, every index gets its own task, which
// suits coarse work items such as whole layers.
func ForEach(ctx context.Context, n int, f func(ctx context.Context, i int) error, cfg Config) error {
	g, ctx := errgroup.WithContext(ctx)
	if cfg.Enabled && cfg.NumWorkers > 0 {
		g.SetLimit(cfg.NumWorkers)
	} else {
		g.SetLimit(1)
	}
	for i := 0; i < n; i++ {
		g.Go(func() error {
			return f(ctx, i)
		})
	}
	return g.Wait()
}
