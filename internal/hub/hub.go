// Package hub keeps the turn coordinators of the rooms this process is
// taking part in. It starts them when a room activates, folds remote copies
// of a room into them, and claims this device's seat in shared rooms.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/zulandar/roundtable/internal/identity"
	"github.com/zulandar/roundtable/internal/room"
	"github.com/zulandar/roundtable/internal/turn"
)

// Store loads and commits rooms. *merge.Reconciler satisfies it.
type Store interface {
	Load(ctx context.Context, roomID string) (room.Snapshot, error)
	Commit(ctx context.Context, pending room.Snapshot) (room.Snapshot, error)
}

// MessageLog is the message store plus bulk import of remote messages.
// *store.Messages satisfies it.
type MessageLog interface {
	turn.MessageStore
	Import(ctx context.Context, s room.Snapshot) error
}

// Device identifies this device to the rooms it takes part in.
type Device struct {
	Credential string   // stamped onto the seat this device claims
	Account    string   // local-account reference of rooms originated here
	Aliases    []string // emails and phone numbers the device is reached by
}

// Opts holds parameters for creating a Hub.
type Opts struct {
	Store    Store
	Messages MessageLog // optional
	Agent    turn.AgentResponder
	Device   Device

	// OnChunk receives streamed agent output of every room. Optional.
	OnChunk func(roomID, chunk string)

	Now   func() time.Time
	NewID func() string
}

// Hub is the per-process registry of live rooms.
type Hub struct {
	store    Store
	messages MessageLog
	agent    turn.AgentResponder
	device   Device
	onChunk  func(roomID, chunk string)
	now      func() time.Time
	newID    func() string

	mu    sync.RWMutex
	rooms map[string]*turn.Coordinator
}

// New creates a Hub.
func New(opts Opts) (*Hub, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("hub: store is required")
	}
	if opts.Agent == nil {
		return nil, fmt.Errorf("hub: agent responder is required")
	}
	return &Hub{
		store:    opts.Store,
		messages: opts.Messages,
		agent:    opts.Agent,
		device:   opts.Device,
		onChunk:  opts.OnChunk,
		now:      opts.Now,
		newID:    opts.NewID,
		rooms:    make(map[string]*turn.Coordinator),
	}, nil
}

// Activate starts the coordinator of a room that just became active. It is
// the creation coordinator's OnActivate hook.
func (h *Hub) Activate(s room.Snapshot) {
	if _, err := h.start(s); err != nil {
		log.Printf("hub: activate room %s: %v", s.ID(), err)
	}
}

// start returns the live coordinator of s, creating it if needed.
func (h *Hub) start(s room.Snapshot) (*turn.Coordinator, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.rooms[s.ID()]; ok {
		return c, nil
	}
	c, err := turn.New(turn.Opts{
		Snapshot: s,
		Store:    h.store,
		Agent:    h.agent,
		Messages: h.messages,
		OnChunk:  h.onChunk,
		Now:      h.now,
		NewID:    h.newID,
	})
	if err != nil {
		return nil, err
	}
	h.rooms[s.ID()] = c
	log.Printf("hub: room %s live [state=%s]", s.ID(), s.Lifecycle.State.Kind())
	return c, nil
}

// Coordinator returns the live coordinator of roomID, loading the room if
// this process has not seen it yet. Rooms that never activated are
// rejected with turn.ErrRoomNotActive.
func (h *Hub) Coordinator(ctx context.Context, roomID string) (*turn.Coordinator, error) {
	h.mu.RLock()
	c, ok := h.rooms[roomID]
	h.mu.RUnlock()
	if ok {
		return c, nil
	}

	s, err := h.store.Load(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("hub: %w", err)
	}
	if _, ok := room.TurnOf(s.Lifecycle.State); !ok {
		return nil, fmt.Errorf("hub: room %s is %s: %w", roomID, s.Lifecycle.State.Kind(), turn.ErrRoomNotActive)
	}
	return h.start(s)
}

// Deliver folds a remote copy of a room into this process: new messages
// are imported, a live coordinator is synced with higher-turn-wins, and the
// device's seat is claimed if it is still unclaimed. A room seen active for
// the first time gets a coordinator.
func (h *Hub) Deliver(ctx context.Context, remote room.Snapshot) error {
	if h.messages != nil {
		if err := h.messages.Import(ctx, remote); err != nil {
			return fmt.Errorf("hub: import messages of room %s: %w", remote.ID(), err)
		}
	}

	h.mu.RLock()
	c, live := h.rooms[remote.ID()]
	h.mu.RUnlock()
	_, hasTurn := room.TurnOf(remote.Lifecycle.State)
	switch {
	case live:
		c.SyncTurnState(remote)
	case hasTurn:
		started, err := h.start(remote)
		if err != nil {
			return fmt.Errorf("hub: start room %s: %w", remote.ID(), err)
		}
		c = started
	}

	if err := h.claim(ctx, c, remote); err != nil {
		log.Printf("hub: claim seat in room %s: %v", remote.ID(), err)
	}
	return nil
}

// claim stamps the device credential onto the seat addressed to one of its
// aliases. A live room is claimed through its coordinator so it stays the
// room's only writer here; any other room is committed directly.
func (h *Hub) claim(ctx context.Context, c *turn.Coordinator, s room.Snapshot) error {
	if h.device.Credential == "" || !h.IsShared(s) {
		return nil
	}
	if c != nil {
		_, _, err := c.ClaimSeat(ctx, h.device.Aliases, h.device.Credential)
		return err
	}
	participants, alias, changed := identity.ClaimSeat(s.Participants, h.device.Aliases, h.device.Credential)
	if !changed {
		return nil
	}
	pending := s.Clone()
	pending.Participants = participants
	if _, err := h.store.Commit(ctx, pending); err != nil {
		return err
	}
	log.Printf("hub: claimed seat in room %s [alias=%s]", s.ID(), alias)
	return nil
}

// Drop forgets a room that was deleted remotely. Any agent reply in flight
// is cancelled.
func (h *Hub) Drop(roomID string) {
	h.mu.Lock()
	c, ok := h.rooms[roomID]
	delete(h.rooms, roomID)
	h.mu.Unlock()
	if ok {
		c.CancelAgentResponse()
		log.Printf("hub: room %s dropped", roomID)
	}
}

// Rooms returns the ids of the live rooms.
func (h *Hub) Rooms() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close cancels every agent reply in flight.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms {
		c.CancelAgentResponse()
	}
}

// IsShared reports whether s was originated on another device.
func (h *Hub) IsShared(s room.Snapshot) bool {
	origin, ok := s.Lifecycle.Spec.Participant(s.Lifecycle.Spec.OriginatorID)
	if !ok {
		return true
	}
	return origin.Identifier.Kind != room.IdentifierLocalAccount || origin.Identifier.Value != h.device.Account
}

// ErrNoLocalSeat is returned when this device has no seat in a room.
var ErrNoLocalSeat = errors.New("hub: device has no seat in room")

// LocalParticipant returns the seat this device occupies in s.
func (h *Hub) LocalParticipant(s room.Snapshot) (room.ParticipantID, error) {
	id, ok := identity.FindLocalParticipant(s.Participants, h.device.Credential, h.IsShared(s))
	if !ok {
		return "", fmt.Errorf("room %s: %w", s.ID(), ErrNoLocalSeat)
	}
	return id, nil
}
