package creation

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/roundtable/internal/room"
)

// Collaborator failures.
var (
	// ErrNotDiscoverable is returned by a Resolver when an identifier does
	// not resolve to anyone.
	ErrNotDiscoverable = errors.New("creation: participant not discoverable")
	// ErrPaymentDeclined is returned by Payments when the processor refuses.
	ErrPaymentDeclined = errors.New("creation: payment declined")
	// ErrPaymentCancelled is returned by Payments when the payer backs out.
	ErrPaymentCancelled = errors.New("creation: payment cancelled")
)

// NetworkError is a transient collaborator failure. The coordinator leaves
// the room where it was so Run can be retried.
type NetworkError struct {
	Detail string
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("creation: network error: %s: %v", e.Detail, e.Err)
	}
	return "creation: network error: " + e.Detail
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsTransient reports whether err should leave the room state unchanged
// rather than end it.
func IsTransient(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Resolver maps a participant identifier to a canonical reference.
type Resolver interface {
	Resolve(ctx context.Context, p room.ParticipantSpec) (string, error)
}

// Payments authorises, captures and releases holds.
type Payments interface {
	Authorize(ctx context.Context, roomID string, cents int64) (room.Hold, error)
	Capture(ctx context.Context, hold room.Hold) error
	// Release must treat an already released hold as success.
	Release(ctx context.Context, hold room.Hold) error
}

// Verdict is an agent evaluator's answer.
type Verdict int

const (
	VerdictUnspecified Verdict = iota
	Accepted
	Declined
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case Declined:
		return "declined"
	}
	return "unspecified"
}

// AgentEvaluator decides whether the agent joins a room.
type AgentEvaluator interface {
	Evaluate(ctx context.Context, roster []room.ParticipantSpec, tier room.Tier) (Verdict, error)
}

// InviteDispatcher tells the humans of a room that it is waiting for them.
type InviteDispatcher interface {
	DispatchInvites(ctx context.Context, s room.Snapshot) error
}

// Store loads and commits room snapshots. *merge.Reconciler satisfies it.
type Store interface {
	Load(ctx context.Context, roomID string) (room.Snapshot, error)
	Commit(ctx context.Context, pending room.Snapshot) (room.Snapshot, error)
}
