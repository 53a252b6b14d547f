package replica

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/zulandar/roundtable/internal/room"
	"github.com/zulandar/roundtable/internal/store"
)

// Lister lists stored rooms. *store.Rooms implements it.
type Lister interface {
	List(ctx context.Context, q store.Query) ([]room.Snapshot, error)
}

// Ender ends and settles rooms. *creation.Coordinator implements it.
type Ender interface {
	Expire(ctx context.Context, roomID string) (room.Snapshot, error)
	Cancel(ctx context.Context, roomID string) (room.Snapshot, error)
	Settle(ctx context.Context, roomID string) (room.Snapshot, error)
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Expired   int
	Abandoned int
	Settled   int
}

// Sweeper expires rooms that waited for their humans longer than the
// invite TTL, cancels rooms whose creation stalled for as long, and retries
// releasing holds left on defunct rooms.
type Sweeper struct {
	rooms Lister
	ender Ender
	ttl   time.Duration
	now   func() time.Time
}

// SweeperOpts holds parameters for creating a Sweeper.
type SweeperOpts struct {
	Rooms Lister
	Ender Ender
	TTL   time.Duration
	Now   func() time.Time
}

// NewSweeper creates a Sweeper.
func NewSweeper(opts SweeperOpts) (*Sweeper, error) {
	if opts.Rooms == nil || opts.Ender == nil {
		return nil, fmt.Errorf("replica: sweeper needs rooms and an ender")
	}
	if opts.TTL <= 0 {
		return nil, fmt.Errorf("replica: sweeper ttl must be positive")
	}
	s := &Sweeper{rooms: opts.Rooms, ender: opts.Ender, ttl: opts.TTL, now: opts.Now}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Sweep runs one pass.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	stale, err := s.rooms.List(ctx, store.Query{
		States:         []room.StateKind{room.StatePendingHumans},
		ModifiedBefore: s.now().Add(-s.ttl),
	})
	if err != nil {
		return res, fmt.Errorf("replica: list stale rooms: %w", err)
	}
	for _, r := range stale {
		if _, err := s.ender.Expire(ctx, r.ID()); err != nil {
			log.Printf("replica: expire room %s: %v", r.ID(), err)
			continue
		}
		res.Expired++
		log.Printf("replica: room %s expired [waited=%s]", r.ID(), s.now().Sub(r.Lifecycle.ModifiedAt).Round(time.Minute))
	}

	// Creation stopped on a failure nobody retried. Cancelling releases
	// the hold.
	stalled, err := s.rooms.List(ctx, store.Query{
		States:         []room.StateKind{room.StateDraft, room.StatePendingAgentAcceptance, room.StatePendingCapture},
		ModifiedBefore: s.now().Add(-s.ttl),
	})
	if err != nil {
		return res, fmt.Errorf("replica: list stalled rooms: %w", err)
	}
	for _, r := range stalled {
		if _, err := s.ender.Cancel(ctx, r.ID()); err != nil {
			log.Printf("replica: cancel stalled room %s: %v", r.ID(), err)
			continue
		}
		res.Abandoned++
		log.Printf("replica: room %s abandoned [state=%s]", r.ID(), r.Lifecycle.State.Kind())
	}

	defunct, err := s.rooms.List(ctx, store.Query{
		States: []room.StateKind{room.StateDefunct},
	})
	if err != nil {
		return res, fmt.Errorf("replica: list defunct rooms: %w", err)
	}
	for _, r := range defunct {
		if r.Hold == nil {
			continue
		}
		after, err := s.ender.Settle(ctx, r.ID())
		if err != nil {
			log.Printf("replica: settle room %s: %v", r.ID(), err)
			continue
		}
		if after.Hold == nil {
			res.Settled++
		}
	}
	return res, nil
}
