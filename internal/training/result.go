package training

import (
	"fmt"
	"time"
)

// StopReason tells why a training session ended.
type StopReason int

// Stop reasons.
const (
	EpochsCompleted StopReason = iota
	EarlyStopping
	NumericOverflow
	TrainingCanceled
)

// String returns the reason name.
func (r StopReason) String() string {
	switch r {
	case EpochsCompleted:
		return "epochs-completed"
	case EarlyStopping:
		return "early-stopping"
	case NumericOverflow:
		return "numeric-overflow"
	case TrainingCanceled:
		return "training-canceled"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Result summarizes a training session. Reports holds one entry per
// completed epoch.
type Result struct {
	StopReason StopReason
	Epochs     int
	Elapsed    time.Duration
	Reports    []EpochReport
}

// Last returns the report of the last completed epoch, if any.
func (r *Result) Last() (EpochReport, bool) {
	if len(r.Reports) == 0 {
		return EpochReport{}, false
	}
	return r.Reports[len(r.Reports)-1], true
}
