package training

import (
	"log/slog"
	"time"
)

// Session describes a training session when it starts.
type Session struct {
	Epochs     int
	Batches    int
	Samples    int
	Parameters int
	Algorithm  string
}

// BatchProgress is reported after every training batch.
type BatchProgress struct {
	Epoch   int
	Batch   int // 1-based index within the epoch
	Batches int
	Cost    float32
	Correct int
	Samples int
}

// Evaluation is the cost and accuracy of a graph over a dataset.
type Evaluation struct {
	Cost    float32 // averaged over the samples
	Correct int
	Samples int
}

// Accuracy returns the fraction of correctly classified samples.
func (e Evaluation) Accuracy() float64 {
	if e.Samples == 0 {
		return 0
	}
	return float64(e.Correct) / float64(e.Samples)
}

// EpochReport is reported after every completed epoch.
type EpochReport struct {
	Epoch      int
	Training   Evaluation // accumulated over the batches of the epoch
	Validation *Evaluation
	Test       *Evaluation
	Elapsed    time.Duration
}

// Sink observes a training session. Calls happen on the training goroutine
// and must not block.
type Sink interface {
	SessionStarted(s Session)
	BatchCompleted(p BatchProgress)
	EpochCompleted(r EpochReport)
	SessionStopped(r *Result)
}

// NopSink ignores every notification.
type NopSink struct{}

func (NopSink) SessionStarted(Session)       {}
func (NopSink) BatchCompleted(BatchProgress) {}
func (NopSink) EpochCompleted(EpochReport)   {}
func (NopSink) SessionStopped(*Result)       {}

// LogSink logs the session with slog: epochs at Info, batches at Debug.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// SessionStarted implements Sink.
func (s LogSink) SessionStarted(session Session) {
	s.logger().Info("training started", "epochs", session.Epochs, "batches", session.Batches,
		"samples", session.Samples, "parameters", session.Parameters, "algorithm", session.Algorithm)
}

// BatchCompleted implements Sink.
func (s LogSink) BatchCompleted(p BatchProgress) {
	s.logger().Debug("batch completed", "epoch", p.Epoch, "batch", p.Batch, "of", p.Batches,
		"cost", p.Cost, "correct", p.Correct, "samples", p.Samples)
}

// EpochCompleted implements Sink.
func (s LogSink) EpochCompleted(r EpochReport) {
	attrs := []any{"epoch", r.Epoch, "cost", r.Training.Cost,
		"accuracy", r.Training.Accuracy(), "elapsed", r.Elapsed}
	if r.Validation != nil {
		attrs = append(attrs, "validation_cost", r.Validation.Cost, "validation_accuracy", r.Validation.Accuracy())
	}
	if r.Test != nil {
		attrs = append(attrs, "test_cost", r.Test.Cost, "test_accuracy", r.Test.Accuracy())
	}
	s.logger().Info("epoch completed", attrs...)
}

// SessionStopped implements Sink.
func (s LogSink) SessionStopped(r *Result) {
	s.logger().Info("training stopped", "reason", r.StopReason, "epochs", r.Epochs, "elapsed", r.Elapsed)
}
