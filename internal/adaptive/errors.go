package adaptive

import (
	"errors"
	"fmt"
)

// ErrSampling is the sentinel behind every SamplingError.
var ErrSampling = errors.New("adaptive: sampling failed")

// SamplingError wraps a failed host metric read. It is never returned from a
// method call; it is only ever surfaced via the controller's "error" event.
type SamplingError struct {
	Cause error
}

func (e *SamplingError) Error() string {
	return fmt.Sprintf("adaptive: sampling failed: %v", e.Cause)
}

func (e *SamplingError) Unwrap() error { return e.Cause }

// Is reports ErrSampling for errors.Is(err, ErrSampling), without requiring
// callers to also match the wrapped cause.
func (e *SamplingError) Is(target error) bool { return target == ErrSampling }
