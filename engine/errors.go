package engine

import (
	"errors"
	"fmt"

	"github.com/holdhq/counsel/model"
)

// ErrInvalidTransition is matched by every InvalidStateTransitionError.
var ErrInvalidTransition = errors.New("invalid state transition")

// ErrTurnInFlight is returned when a turn is requested while another turn of
// the same session is still waiting for the model.
var ErrTurnInFlight = errors.New("a turn is already in flight for this session")

// InvalidStateTransitionError reports an operation the session's status does
// not allow.
type InvalidStateTransitionError struct {
	Op     string
	Status model.Status
	Ending bool
}

func (e *InvalidStateTransitionError) Error() string {
	if e.Ending {
		return fmt.Sprintf("cannot %s: session is ending", e.Op)
	}
	return fmt.Sprintf("cannot %s: session is %s", e.Op, e.Status)
}

// Is makes errors.Is(err, ErrInvalidTransition) true.
func (e *InvalidStateTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// PersistenceWriteError wraps a failed session save. The in-memory session
// stays authoritative until a later save succeeds.
type PersistenceWriteError struct {
	SessionID string
	Err       error
}

func (e *PersistenceWriteError) Error() string {
	return fmt.Sprintf("saving session %s: %v", e.SessionID, e.Err)
}

func (e *PersistenceWriteError) Unwrap() error { return e.Err }
