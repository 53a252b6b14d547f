package room

import (
	"errors"
	"fmt"
)

// Failure taxonomy. Creation failures surface wrapped in *DefunctError;
// ErrInvalidState surfaces wrapped in *InvalidStateError.
var (
	ErrResolutionFailed           = errors.New("room: participant resolution failed")
	ErrPaymentAuthorizationFailed = errors.New("room: payment authorization failed")
	ErrPaymentCaptureFailed       = errors.New("room: payment capture failed")
	ErrAgentDeclined              = errors.New("room: agent declined")
	ErrParticipantDeclined        = errors.New("room: participant declined")
	ErrParticipantLeft            = errors.New("room: participant left")
	ErrCancelled                  = errors.New("room: cancelled")
	ErrExpired                    = errors.New("room: expired")
	ErrInvalidState               = errors.New("room: event not applicable in current state")
)

// Err maps a defunct reason to its sentinel error.
func (r DefunctReason) Err() error {
	switch r.Kind {
	case DefunctResolutionFailed:
		return ErrResolutionFailed
	case DefunctPaymentAuthFailed:
		return ErrPaymentAuthorizationFailed
	case DefunctAgentDeclined:
		return ErrAgentDeclined
	case DefunctPaymentCaptureFailed:
		return ErrPaymentCaptureFailed
	case DefunctParticipantDeclined:
		return ErrParticipantDeclined
	case DefunctParticipantLeft:
		return ErrParticipantLeft
	case DefunctCancelled:
		return ErrCancelled
	case DefunctExpired:
		return ErrExpired
	}
	return fmt.Errorf("room: defunct (%s)", r.Kind)
}

// DefunctError reports that a room ended in Defunct. errors.Is matches the
// sentinel for its reason.
type DefunctError struct {
	RoomID string
	Reason DefunctReason
}

func (e *DefunctError) Error() string {
	return fmt.Sprintf("room %s defunct: %s", e.RoomID, e.Reason)
}

func (e *DefunctError) Unwrap() error { return e.Reason.Err() }

// InvalidStateError reports an event applied to a state with no matching
// transition.
type InvalidStateError struct {
	State StateKind
	Event EventKind
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("room: event %s not applicable in state %s", e.Event, e.State)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }
