package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat"

	"github.com/born-ml/graphnet/activation"
	"github.com/born-ml/graphnet/graph"
	"github.com/born-ml/graphnet/internal/envconfig"
	"github.com/born-ml/graphnet/lbfgs"
	"github.com/born-ml/graphnet/nn"
	"github.com/born-ml/graphnet/optim"
	"github.com/born-ml/graphnet/tensor"
	"github.com/born-ml/graphnet/training"
)

type trainFlags struct {
	optimizer    string
	learningRate float32
	epochs       int
	batchSize    int
	samples      int
	classes      int
	hidden       []int
	activation   string
	dropout      float64
	seed         int64
	validation   float64
	tolerance    float32
	patience     int
	bound        float64
}

func newTrainCmd() *cobra.Command {
	var f trainFlags
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a classifier on a synthetic spiral dataset",
		Example: `  graphnet train --optimizer adam --epochs 30 --hidden 32,32
  graphnet train --optimizer lbfgs --hidden 8 --bound 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return trainHandler(cmd, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.optimizer, "optimizer", "o", "adam", "Update algorithm: sgd, adadelta, adam, adamax or lbfgs")
	flags.Float32Var(&f.learningRate, "learning-rate", 0, "Learning rate (0 selects the optimizer default)")
	flags.IntVarP(&f.epochs, "epochs", "e", 20, "Maximum number of epochs")
	flags.IntVarP(&f.batchSize, "batch-size", "b", 32, "Samples per batch")
	flags.IntVar(&f.samples, "samples", 900, "Number of generated samples")
	flags.IntVar(&f.classes, "classes", 3, "Number of spiral arms")
	flags.IntSliceVar(&f.hidden, "hidden", []int{32}, "Sizes of the hidden layers")
	flags.StringVar(&f.activation, "activation", "relu", "Activation of the hidden layers")
	flags.Float64Var(&f.dropout, "dropout", 0, "Dropout probability of the hidden layers")
	flags.Int64Var(&f.seed, "seed", 1, "Seed of the data, the weights and the shuffling")
	flags.Float64Var(&f.validation, "validation", 0.2, "Fraction of the samples held out for validation")
	flags.Float32Var(&f.tolerance, "tolerance", 1e-4, "Minimum validation cost decrease counted as an improvement")
	flags.IntVar(&f.patience, "patience", 5, "Epochs without improvement before stopping")
	flags.Float64Var(&f.bound, "bound", 0, "Parameter bound of the lbfgs optimizer (0 leaves them free)")
	return cmd
}

func trainHandler(cmd *cobra.Command, f trainFlags) error {
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: envconfig.LogLevel()}))
	slog.SetDefault(logger)

	if f.samples < f.classes || f.classes < 2 {
		return fmt.Errorf("need at least 2 classes and one sample per class, got %d samples of %d classes", f.samples, f.classes)
	}
	if f.validation < 0 || f.validation >= 1 {
		return fmt.Errorf("validation fraction %v out of [0, 1)", f.validation)
	}
	act, err := activation.Parse(f.activation)
	if err != nil {
		return err
	}

	//nolint:gosec // reproducible synthetic data
	rng := rand.New(rand.NewSource(f.seed))
	g, err := classifier(f, act, rng)
	if err != nil {
		return err
	}
	logger.Info("graph built", "graph", g.String(), "parameters", g.Parameters())

	x, y := spiral(f.samples, f.classes, rng)
	defer x.Free()
	defer y.Free()
	train, validation, err := split(x, y, f.validation, f.batchSize)
	if err != nil {
		return err
	}
	defer train.Free()

	if strings.EqualFold(f.optimizer, "lbfgs") {
		return trainLBFGS(cmd, g, train, validation, f)
	}

	algorithm, err := optim.Parse(f.optimizer, f.learningRate)
	if err != nil {
		return err
	}
	opts := training.Options{
		Algorithm: algorithm,
		Dropout:   f.dropout,
		Seed:      f.seed,
		Sink:      training.LogSink{Logger: logger},
		Logger:    logger,
	}
	if validation != nil {
		defer validation.Free()
		opts.Validation = &training.Validation{
			Dataset:        validation,
			Tolerance:      f.tolerance,
			EpochsInterval: f.patience,
		}
	}

	res, err := training.Train(cmd.Context(), g, train, f.epochs, opts)
	if err != nil {
		return err
	}
	printReports(cmd.OutOrStdout(), res)
	return nil
}

func classifier(f trainFlags, act activation.Kind, rng *rand.Rand) (*graph.Graph, error) {
	factories := make([]nn.Factory, 0, len(f.hidden)+1)
	for _, n := range f.hidden {
		factories = append(factories, nn.FullyConnected(n, act, nn.WithRand(rng), nn.WithInitialization(nn.HeNormal)))
	}
	factories = append(factories, nn.Softmax(f.classes, nn.WithRand(rng)))
	return graph.Sequential(tensor.Linear(2), factories...)
}

// spiral draws samples points spread over classes interleaved arms with a
// one-hot label each.
func spiral(samples, classes int, rng *rand.Rand) (x, y *tensor.Tensor) {
	x = tensor.MustNew(samples, 2)
	y = tensor.MustNew(samples, classes)
	for i := 0; i < samples; i++ {
		class := i % classes
		r := float64(i/classes) / float64(samples/classes)
		theta := float64(class)*2*math.Pi/float64(classes) + 4*r + rng.NormFloat64()*0.2
		x.Set(i, 0, float32(r*math.Sin(theta)))
		x.Set(i, 1, float32(r*math.Cos(theta)))
		y.Set(i, class, 1)
	}
	return x, y
}

// split holds out the last fraction of the samples for validation.
func split(x, y *tensor.Tensor, fraction float64, batchSize int) (train, validation *training.Dataset, err error) {
	n := x.Entities()
	held := int(float64(n) * fraction)
	if held == n {
		return nil, nil, errors.New("no training samples left after the validation split")
	}

	head := func(t *tensor.Tensor, from, to int) *tensor.Tensor {
		s, _ := tensor.Fix(t.Data()[from*t.Length():to*t.Length()], to-from, t.Length())
		return s
	}
	train, err = training.NewDataset(head(x, 0, n-held), head(y, 0, n-held), batchSize)
	if err != nil || held == 0 {
		return train, nil, err
	}
	validation, err = training.NewDataset(head(x, n-held, n), head(y, n-held, n), held)
	return train, validation, err
}

func trainLBFGS(cmd *cobra.Command, g *graph.Graph, train, validation *training.Dataset, f trainFlags) error {
	res, err := training.TrainLBFGS(cmd.Context(), g, train, training.LBFGSOptions{
		Settings: lbfgs.Settings{MaxIterations: f.epochs},
		Bound:    f.bound,
	})
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "status %s after %d iterations (%d evaluations) in %s\n",
		res.Status, res.Iterations, res.Evaluations, res.Elapsed.Round(time.Millisecond))
	e, err := training.Evaluate(g, train)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "training cost %.4f accuracy %.2f%%\n", e.Cost, 100*e.Accuracy())
	if validation != nil {
		defer validation.Free()
		e, err := training.Evaluate(g, validation)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "validation cost %.4f accuracy %.2f%%\n", e.Cost, 100*e.Accuracy())
	}
	return nil
}

func printReports(w io.Writer, res *training.Result) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"EPOCH", "COST", "ACCURACY", "VALIDATION COST", "VALIDATION ACCURACY", "ELAPSED"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")

	elapsed := make([]float64, 0, len(res.Reports))
	for _, r := range res.Reports {
		row := []string{
			fmt.Sprint(r.Epoch),
			fmt.Sprintf("%.4f", r.Training.Cost),
			fmt.Sprintf("%.2f%%", 100*r.Training.Accuracy()),
			"-", "-",
			r.Elapsed.Round(time.Microsecond).String(),
		}
		if r.Validation != nil {
			row[3] = fmt.Sprintf("%.4f", r.Validation.Cost)
			row[4] = fmt.Sprintf("%.2f%%", 100*r.Validation.Accuracy())
		}
		table.Append(row)
		elapsed = append(elapsed, r.Elapsed.Seconds())
	}
	table.Render()

	fmt.Fprintf(w, "\nstopped: %s after %d epochs in %s\n", res.StopReason, res.Epochs, res.Elapsed.Round(time.Millisecond))
	if len(elapsed) > 1 {
		mean, std := stat.MeanStdDev(elapsed, nil)
		fmt.Fprintf(w, "epoch time: %s ± %s\n",
			time.Duration(mean*float64(time.Second)).Round(time.Microsecond),
			time.Duration(std*float64(time.Second)).Round(time.Microsecond))
	}
}
