package training

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/born-ml/graphnet/internal/nn"
	"github.com/born-ml/graphnet/internal/parallel"
)

// ErrNumericOverflow is returned by CheckOverflow when a parameter is NaN
// or infinite.
var ErrNumericOverflow = errors.New("numeric overflow")

// CheckOverflow scans the parameters of every layer, one goroutine per
// layer, and fails on the first non-finite value.
func CheckOverflow(ctx context.Context, layers []nn.WeightedLayer, cfg parallel.Config) error {
	return parallel.ForEach(ctx, len(layers), func(ctx context.Context, i int) error {
		for _, p := range [][]float32{layers[i].Weights().Data(), layers[i].Biases().Data()} {
			for j, v := range p {
				if j%4096 == 0 && ctx.Err() != nil {
					return ctx.Err()
				}
				if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
					return fmt.Errorf("%w in %s layer %d", ErrNumericOverflow, layers[i].Type(), i)
				}
			}
		}
		return nil
	}, cfg)
}
