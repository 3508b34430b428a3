package imu

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrInsufficientData means the buffer holds no samples reaching the
	// requested end time. Recoverable: retry once more samples arrive.
	ErrInsufficientData = errors.New("insufficient buffered samples to reach the requested time")

	// ErrNotStarted means a control operation ran before SetStart. This is a
	// caller logic error, not a data condition.
	ErrNotStarted = errors.New("engine has no start state: call SetStart first")
)

// TimeRangeError reports a pose query outside the window covered by the
// current state and the buffered samples.
type TimeRangeError struct {
	Query      time.Time
	Begin, End time.Time
}

func (e *TimeRangeError) Error() string {
	return fmt.Sprintf("query time %v outside buffered window [%v, %v]",
		e.Query.UnixNano(), e.Begin.UnixNano(), e.End.UnixNano())
}

// OverflowError reports that the sample buffer's time span exceeded the
// configured bound because factors were not registered often enough.
type OverflowError struct {
	Span, Limit time.Duration
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("sample buffer spans %v, exceeding the configured bound %v", e.Span, e.Limit)
}

// NumericError reports a non-finite quaternion or an invalid covariance
// produced by degenerate inputs. It is a defect: the operation that produced
// it aborts rather than propagating a plausible-looking result.
type NumericError struct {
	Op     string
	Detail string
}

func (e *NumericError) Error() string {
	return fmt.Sprintf("numerical failure in %s: %s", e.Op, e.Detail)
}
