package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/born-ml/graphnet/internal/tensor"
)

// initialize fills w according to the scheme.
//
//   - GlorotUniform: U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
//   - HeNormal: N(0, 2/fan_in)
//   - LeCunNormal: N(0, 1/fan_in)
//
// Glorot keeps the activation variance stable for sigmoid/tanh layers, He
// is suited to ReLU variants.
func initialize(w *tensor.Tensor, init Initialization, fanIn, fanOut int, rng *rand.Rand) {
	data := w.Data()
	switch init {
	case HeNormal:
		std := math.Sqrt(2 / float64(fanIn))
		for i := range data {
			data[i] = float32(rng.NormFloat64() * std)
		}
	case LeCunNormal:
		std := math.Sqrt(1 / float64(fanIn))
		for i := range data {
			data[i] = float32(rng.NormFloat64() * std)
		}
	case GlorotUniform:
		bound := math.Sqrt(6 / float64(fanIn+fanOut))
		for i := range data {
			data[i] = float32((rng.Float64()*2 - 1) * bound)
		}
	}
}

// String returns the initialization name.
func (i Initialization) String() string {
	switch i {
	case HeNormal:
		return "he"
	case LeCunNormal:
		return "lecun"
	case GlorotUniform:
		return "glorot"
	default:
		return fmt.Sprintf("initialization(%d)", int(i))
	}
}

func (i Initialization) validate(layer string) error {
	switch i {
	case GlorotUniform, HeNormal, LeCunNormal:
		return nil
	default:
		return configError(layer, "unknown weight initialization %s", i)
	}
}
