// Package replica runs the periodic jobs that keep this process in step
// with the shared room store: a poller that delivers remote changes to the
// hub and a sweeper that expires rooms nobody joined.
package replica

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/zulandar/roundtable/internal/room"
	"github.com/zulandar/roundtable/internal/store"
)

// Source lists stored rooms. *store.Rooms implements it.
type Source interface {
	List(ctx context.Context, q store.Query) ([]room.Snapshot, error)
	IDs(ctx context.Context) ([]string, error)
}

// Sink receives remote room changes. *hub.Hub implements it.
type Sink interface {
	Deliver(ctx context.Context, remote room.Snapshot) error
	Drop(roomID string)
	Rooms() []string
}

// Poller delivers every room whose stored version changed since the last
// poll, and drops live rooms that were deleted.
type Poller struct {
	source Source
	sink   Sink

	mu   sync.Mutex
	seen map[string]int64
}

// NewPoller creates a Poller.
func NewPoller(source Source, sink Sink) (*Poller, error) {
	if source == nil || sink == nil {
		return nil, fmt.Errorf("replica: poller needs a source and a sink")
	}
	return &Poller{source: source, sink: sink, seen: make(map[string]int64)}, nil
}

// Poll runs one pass and returns how many rooms were delivered.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rooms, err := p.source.List(ctx, store.Query{})
	if err != nil {
		return 0, fmt.Errorf("replica: poll: %w", err)
	}
	delivered := 0
	for _, s := range rooms {
		if v, ok := p.seen[s.ID()]; ok && v == s.Version {
			continue
		}
		if err := p.sink.Deliver(ctx, s); err != nil {
			log.Printf("replica: deliver room %s: %v", s.ID(), err)
			continue
		}
		p.seen[s.ID()] = s.Version
		delivered++
	}

	ids, err := p.source.IDs(ctx)
	if err != nil {
		return delivered, fmt.Errorf("replica: poll ids: %w", err)
	}
	present := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		present[id] = struct{}{}
	}
	for _, id := range p.sink.Rooms() {
		if _, ok := present[id]; !ok {
			p.sink.Drop(id)
			delete(p.seen, id)
		}
	}
	for id := range p.seen {
		if _, ok := present[id]; !ok {
			delete(p.seen, id)
		}
	}
	return delivered, nil
}
