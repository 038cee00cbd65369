package orchestrator

import (
	"errors"
	"fmt"
)

// ErrStopRequested signals that the run should end because the work
// item was pulled off the monitored list or the process received a
// termination signal.
var ErrStopRequested = errors.New("stop requested")

// DecompositionError indicates planning failed permanently: the
// decomposition agent errored or returned unusable output after all
// repair attempts.
type DecompositionError struct {
	Attempts int
	Err      error
}

func (e *DecompositionError) Error() string {
	return fmt.Sprintf("decomposition failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *DecompositionError) Unwrap() error {
	return e.Err
}
