package merge

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/zulandar/roundtable/internal/room"
)

var (
	// ErrStaleVersion is returned by a Transport when a pushed snapshot's
	// version no longer matches the stored record.
	ErrStaleVersion = errors.New("merge: stale version")
	// ErrConflictRetryExhausted is returned when the single merged resubmit
	// is rejected as stale too.
	ErrConflictRetryExhausted = errors.New("merge: write rejected twice for stale version")
	// ErrNotFound is returned by a Transport when the room has no record.
	ErrNotFound = errors.New("merge: room not found")
)

// Transport is the persistence side of replication. Push writes s if its
// Version matches the stored record (or creates it when Version is zero)
// and returns the stored copy with its new version.
type Transport interface {
	Fetch(ctx context.Context, roomID string) (room.Snapshot, error)
	Push(ctx context.Context, s room.Snapshot) (room.Snapshot, error)
}

// Reconciler pushes local snapshots through a Transport and resolves
// optimistic-concurrency rejections with one re-fetch, merge and resubmit.
type Reconciler struct {
	transport Transport
}

// NewReconciler creates a Reconciler over t.
func NewReconciler(t Transport) *Reconciler {
	return &Reconciler{transport: t}
}

// Commit persists pending. On ErrStaleVersion it re-fetches the remote
// record, merges pending into it with HigherTurnWins and resubmits once. A
// second rejection is returned wrapped in ErrConflictRetryExhausted. On
// success the stored copy is applied with RemoteWins and returned.
func (r *Reconciler) Commit(ctx context.Context, pending room.Snapshot) (room.Snapshot, error) {
	id := pending.ID()
	stored, err := r.transport.Push(ctx, pending)
	if err == nil {
		return RemoteWins(pending, stored), nil
	}
	if !errors.Is(err, ErrStaleVersion) {
		return room.Snapshot{}, fmt.Errorf("merge: push room %s: %w", id, err)
	}

	remote, err := r.transport.Fetch(ctx, id)
	if err != nil {
		return room.Snapshot{}, fmt.Errorf("merge: refetch room %s after stale write: %w", id, err)
	}
	merged := HigherTurnWins(pending, remote)
	merged.Version = remote.Version
	log.Printf("merge: room %s stale write resolved against version %d [state=%s]",
		id, remote.Version, merged.Lifecycle.State.Kind())

	stored, err = r.transport.Push(ctx, merged)
	if errors.Is(err, ErrStaleVersion) {
		return room.Snapshot{}, fmt.Errorf("merge: room %s: %w", id, ErrConflictRetryExhausted)
	}
	if err != nil {
		return room.Snapshot{}, fmt.Errorf("merge: resubmit room %s: %w", id, err)
	}
	return RemoteWins(merged, stored), nil
}

// Refresh fetches the authoritative copy of local's room and applies it
// with RemoteWins.
func (r *Reconciler) Refresh(ctx context.Context, local room.Snapshot) (room.Snapshot, error) {
	remote, err := r.transport.Fetch(ctx, local.ID())
	if err != nil {
		return room.Snapshot{}, fmt.Errorf("merge: refresh room %s: %w", local.ID(), err)
	}
	return RemoteWins(local, remote), nil
}

// Load fetches the stored copy of roomID.
func (r *Reconciler) Load(ctx context.Context, roomID string) (room.Snapshot, error) {
	s, err := r.transport.Fetch(ctx, roomID)
	if err != nil {
		return room.Snapshot{}, fmt.Errorf("merge: load room %s: %w", roomID, err)
	}
	return s, nil
}
