// Package turn runs an active room: speaking order, messages, agent
// replies, passes and raised hands.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zulandar/roundtable/internal/identity"
	"github.com/zulandar/roundtable/internal/merge"
	"github.com/zulandar/roundtable/internal/room"
)

var (
	ErrNotYourTurn        = errors.New("turn: not this participant's turn")
	ErrRoomNotActive      = errors.New("turn: room is not active")
	ErrNotAgentTurn       = errors.New("turn: not the agent's turn")
	ErrUnknownParticipant = errors.New("turn: unknown participant")
	ErrAgentUnavailable   = errors.New("turn: agent response failed")
	ErrResponseCancelled  = errors.New("turn: agent response cancelled")
)

// NarratorName is the author name recorded on narration messages.
const NarratorName = "Narrator"

// AgentResponder produces the agent's reply to the transcript of roomID,
// which may be empty when the agent opens the room. onChunk, when
// non-nil, receives partial output as it streams. Cancelling ctx must stop
// the stream.
type AgentResponder interface {
	Respond(ctx context.Context, roomID string, transcript []room.Message, onChunk func(string)) (string, error)
}

// MessageStore is the per-room message log.
type MessageStore interface {
	Save(ctx context.Context, m room.Message) error
	Fetch(ctx context.Context, roomID string) ([]room.Message, error)
	// Observe calls onChange for every message saved to roomID until the
	// returned cancel func is called.
	Observe(roomID string, onChange func(room.Message)) (cancel func())
}

// Store commits room snapshots. *merge.Reconciler satisfies it.
type Store interface {
	Commit(ctx context.Context, pending room.Snapshot) (room.Snapshot, error)
}

// Opts holds parameters for creating a Coordinator.
type Opts struct {
	Snapshot room.Snapshot
	Store    Store
	Agent    AgentResponder
	Messages MessageStore // optional

	// OnChunk receives streamed agent output. Optional.
	OnChunk func(roomID, chunk string)

	Now   func() time.Time // defaults to time.Now
	NewID func() string    // defaults to uuid.NewString
}

// Coordinator owns one room's in-process replica. Operations are
// serialised; an agent reply runs inside the operation that triggered it.
type Coordinator struct {
	store    Store
	agent    AgentResponder
	messages MessageStore
	onChunk  func(roomID, chunk string)
	now      func() time.Time
	newID    func() string

	mu   sync.Mutex
	snap room.Snapshot

	viewMu sync.RWMutex
	view   room.Snapshot

	streamMu     sync.Mutex
	cancelStream context.CancelFunc
}

// New creates a Coordinator for the room in opts.Snapshot.
func New(opts Opts) (*Coordinator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("turn: store is required")
	}
	if opts.Agent == nil {
		return nil, fmt.Errorf("turn: agent responder is required")
	}
	if opts.Snapshot.ID() == "" {
		return nil, fmt.Errorf("turn: snapshot has no room id")
	}
	if opts.Snapshot.Lifecycle.State == nil {
		return nil, fmt.Errorf("turn: room %s has no state", opts.Snapshot.ID())
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	c := &Coordinator{
		store:    opts.Store,
		agent:    opts.Agent,
		messages: opts.Messages,
		onChunk:  opts.OnChunk,
		now:      now,
		newID:    newID,
	}
	c.setSnap(opts.Snapshot.Clone())
	return c, nil
}

// RoomID returns the id of the coordinated room.
func (c *Coordinator) RoomID() string {
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()
	return c.view.ID()
}

// Snapshot returns a copy of the last committed replica. It does not wait
// for an in-flight agent reply.
func (c *Coordinator) Snapshot() room.Snapshot {
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()
	return c.view.Clone()
}

func (c *Coordinator) setSnap(s room.Snapshot) {
	c.snap = s
	c.viewMu.Lock()
	c.view = s.Clone()
	c.viewMu.Unlock()
}

// Speaker returns the seat whose turn it is.
func (c *Coordinator) Speaker() (room.ParticipantSpec, error) {
	s := c.Snapshot()
	t, ok := s.Lifecycle.State.(room.Active)
	if !ok {
		return room.ParticipantSpec{}, fmt.Errorf("turn: room %s is %s: %w", s.ID(), s.Lifecycle.State.Kind(), ErrRoomNotActive)
	}
	return s.Lifecycle.Spec.SpeakerAt(t.Turn.CurrentTurnIndex), nil
}

// SendMessage appends author's message and passes the turn on. If the turn
// lands on the agent the agent replies before SendMessage returns and the
// turn moves past it. An agent failure is returned wrapped in
// ErrAgentUnavailable; the human's message stays committed and the turn
// stays on the agent.
func (c *Coordinator) SendMessage(ctx context.Context, author room.ParticipantID, text string) (room.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	turn, err := c.activeTurn()
	if err != nil {
		return c.snap.Clone(), err
	}
	spec := c.snap.Lifecycle.Spec
	p, ok := spec.Participant(author)
	if !ok {
		return c.snap.Clone(), fmt.Errorf("turn: room %s: %s: %w", spec.ID, author, ErrUnknownParticipant)
	}
	if speaker := spec.SpeakerAt(turn.CurrentTurnIndex); speaker.ID != author {
		return c.snap.Clone(), fmt.Errorf("turn: room %s: %s spoke during %s's turn: %w", spec.ID, author, speaker.ID, ErrNotYourTurn)
	}

	msg := room.Message{
		ID:         c.newID(),
		RoomID:     spec.ID,
		AuthorID:   p.ID,
		AuthorName: p.Nickname,
		Text:       text,
		CreatedAt:  c.now(),
		IsAgent:    p.IsAgent(),
	}
	if err := c.commitTurn(ctx, turn.Advanced(), msg); err != nil {
		return c.snap.Clone(), err
	}
	return c.afterAdvance(ctx)
}

// YieldTurn passes the current turn without a message.
func (c *Coordinator) YieldTurn(ctx context.Context) (room.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	turn, err := c.activeTurn()
	if err != nil {
		return c.snap.Clone(), err
	}
	if err := c.commitTurn(ctx, turn.Advanced()); err != nil {
		return c.snap.Clone(), err
	}
	return c.afterAdvance(ctx)
}

// InvokeAgent asks the agent for its reply when the turn is parked on it,
// typically after an earlier reply failed.
func (c *Coordinator) InvokeAgent(ctx context.Context) (room.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.invokeAgent(ctx); err != nil {
		return c.snap.Clone(), err
	}
	return c.snap.Clone(), nil
}

// RaiseHand adds id to the raised hands. It does not touch the turn.
func (c *Coordinator) RaiseHand(ctx context.Context, id room.ParticipantID) (room.Snapshot, error) {
	return c.setHand(ctx, id, true)
}

// LowerHand removes id from the raised hands.
func (c *Coordinator) LowerHand(ctx context.Context, id room.ParticipantID) (room.Snapshot, error) {
	return c.setHand(ctx, id, false)
}

func (c *Coordinator) setHand(ctx context.Context, id room.ParticipantID, raised bool) (room.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	turn, err := c.activeTurn()
	if err != nil {
		return c.snap.Clone(), err
	}
	if _, ok := c.snap.Lifecycle.Spec.Participant(id); !ok {
		return c.snap.Clone(), fmt.Errorf("turn: room %s: %s: %w", c.snap.ID(), id, ErrUnknownParticipant)
	}
	if turn.RaisedHands.Contains(id) == raised {
		return c.snap.Clone(), nil
	}
	if raised {
		turn.RaisedHands = turn.RaisedHands.With(id)
	} else {
		turn.RaisedHands = turn.RaisedHands.Without(id)
	}
	if err := c.commitTurn(ctx, turn); err != nil {
		return c.snap.Clone(), err
	}
	return c.snap.Clone(), nil
}

// PostNeed records a pending out-of-band request on the turn.
func (c *Coordinator) PostNeed(ctx context.Context, need room.Need) (room.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	turn, err := c.activeTurn()
	if err != nil {
		return c.snap.Clone(), err
	}
	if need.RequestedAt.IsZero() {
		need.RequestedAt = c.now()
	}
	turn.CurrentNeed = &need
	if err := c.commitTurn(ctx, turn); err != nil {
		return c.snap.Clone(), err
	}
	return c.snap.Clone(), nil
}

// ClearNeed drops the pending request, if any.
func (c *Coordinator) ClearNeed(ctx context.Context) (room.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	turn, err := c.activeTurn()
	if err != nil {
		return c.snap.Clone(), err
	}
	if turn.CurrentNeed == nil {
		return c.snap.Clone(), nil
	}
	turn.CurrentNeed = nil
	if err := c.commitTurn(ctx, turn); err != nil {
		return c.snap.Clone(), err
	}
	return c.snap.Clone(), nil
}

// Narrate appends a system narration message. The turn does not move.
func (c *Coordinator) Narrate(ctx context.Context, text string) (room.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	turn, err := c.activeTurn()
	if err != nil {
		return c.snap.Clone(), err
	}
	msg := room.Message{
		ID:          c.newID(),
		RoomID:      c.snap.ID(),
		AuthorName:  NarratorName,
		Text:        text,
		CreatedAt:   c.now(),
		IsNarration: true,
	}
	if err := c.commitTurn(ctx, turn, msg); err != nil {
		return c.snap.Clone(), err
	}
	return c.snap.Clone(), nil
}

// CloseRoom locks the room with its closing text.
func (c *Coordinator) CloseRoom(ctx context.Context, closingText string) (room.Snapshot, error) {
	c.CancelAgentResponse()
	return c.applyEvent(ctx, room.ClosingTextWritten{Text: closingText})
}

// Leave ends the room because id walked out.
func (c *Coordinator) Leave(ctx context.Context, id room.ParticipantID) (room.Snapshot, error) {
	if err := c.checkParticipant(id); err != nil {
		return c.Snapshot(), err
	}
	c.CancelAgentResponse()
	return c.applyEvent(ctx, room.ParticipantLeft{ParticipantID: id})
}

// Decline ends the room because id declined to continue.
func (c *Coordinator) Decline(ctx context.Context, id room.ParticipantID) (room.Snapshot, error) {
	if err := c.checkParticipant(id); err != nil {
		return c.Snapshot(), err
	}
	c.CancelAgentResponse()
	return c.applyEvent(ctx, room.ParticipantDeclined{ParticipantID: id})
}

func (c *Coordinator) checkParticipant(id room.ParticipantID) error {
	s := c.Snapshot()
	if _, ok := s.Lifecycle.Spec.Participant(id); !ok {
		return fmt.Errorf("turn: room %s: %s: %w", s.ID(), id, ErrUnknownParticipant)
	}
	return nil
}

// ClaimSeat stamps credential onto the unclaimed seat addressed to one of
// aliases and commits the room. It reports whether a seat was claimed.
func (c *Coordinator) ClaimSeat(ctx context.Context, aliases []string, credential string) (room.Snapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	participants, alias, changed := identity.ClaimSeat(c.snap.Participants, aliases, credential)
	if !changed {
		return c.snap.Clone(), false, nil
	}
	pending := c.snap.Clone()
	pending.Participants = participants
	stored, err := c.store.Commit(ctx, pending)
	if err != nil {
		return c.snap.Clone(), false, fmt.Errorf("turn: commit seat claim in room %s: %w", pending.ID(), err)
	}
	c.setSnap(stored)
	log.Printf("turn: room %s seat claimed [alias=%s]", stored.ID(), alias)
	return stored.Clone(), true, nil
}

// CancelAgentResponse stops an in-flight agent reply. Nothing from the
// cancelled reply is kept and the turn stays on the agent.
func (c *Coordinator) CancelAgentResponse() bool {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	if c.cancelStream == nil {
		return false
	}
	c.cancelStream()
	c.cancelStream = nil
	return true
}

// SyncTurnState folds a remote snapshot of the room into the replica with
// higher-turn-wins. The turn index never goes backwards. A remote copy that
// has ended the room stops any agent reply first.
func (c *Coordinator) SyncTurnState(remote room.Snapshot) room.Snapshot {
	if remote.ID() != c.RoomID() {
		return c.Snapshot()
	}
	if remote.Lifecycle.State != nil && room.IsTerminal(remote.Lifecycle.State) {
		c.CancelAgentResponse()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	merged := merge.HigherTurnWins(c.snap, remote)
	c.setSnap(merged)
	return merged.Clone()
}

func (c *Coordinator) activeTurn() (room.TurnState, error) {
	st, ok := c.snap.Lifecycle.State.(room.Active)
	if !ok {
		return room.TurnState{}, fmt.Errorf("turn: room %s is %s: %w", c.snap.ID(), c.snap.Lifecycle.State.Kind(), ErrRoomNotActive)
	}
	return st.Turn, nil
}

// afterAdvance invokes the agent when the turn has landed on it.
func (c *Coordinator) afterAdvance(ctx context.Context) (room.Snapshot, error) {
	turn, err := c.activeTurn()
	if err != nil {
		// The commit merged in a remote close.
		return c.snap.Clone(), nil
	}
	if !c.snap.Lifecycle.Spec.SpeakerAt(turn.CurrentTurnIndex).IsAgent() {
		return c.snap.Clone(), nil
	}
	if err := c.invokeAgent(ctx); err != nil {
		return c.snap.Clone(), err
	}
	return c.snap.Clone(), nil
}

func (c *Coordinator) invokeAgent(ctx context.Context) error {
	turn, err := c.activeTurn()
	if err != nil {
		return err
	}
	spec := c.snap.Lifecycle.Spec
	speaker := spec.SpeakerAt(turn.CurrentTurnIndex)
	if !speaker.IsAgent() {
		return fmt.Errorf("turn: room %s: speaker is %s: %w", spec.ID, speaker.ID, ErrNotAgentTurn)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	c.streamMu.Lock()
	c.cancelStream = cancel
	c.streamMu.Unlock()
	defer func() {
		c.streamMu.Lock()
		c.cancelStream = nil
		c.streamMu.Unlock()
		cancel()
	}()

	var onChunk func(string)
	if c.onChunk != nil {
		onChunk = func(chunk string) { c.onChunk(spec.ID, chunk) }
	}
	transcript := make([]room.Message, len(c.snap.Messages))
	copy(transcript, c.snap.Messages)

	started := c.now()
	text, err := c.agent.Respond(streamCtx, spec.ID, transcript, onChunk)
	if streamCtx.Err() != nil && ctx.Err() == nil {
		log.Printf("turn: room %s agent reply cancelled", spec.ID)
		return fmt.Errorf("turn: room %s: %w", spec.ID, ErrResponseCancelled)
	}
	if err != nil {
		log.Printf("turn: room %s agent reply failed: %v", spec.ID, err)
		return fmt.Errorf("turn: room %s: %w: %v", spec.ID, ErrAgentUnavailable, err)
	}

	msg := room.Message{
		ID:         c.newID(),
		RoomID:     spec.ID,
		AuthorID:   speaker.ID,
		AuthorName: speaker.Nickname,
		Text:       text,
		CreatedAt:  c.now(),
		IsAgent:    true,
	}
	if err := c.commitTurn(ctx, turn.Advanced(), msg); err != nil {
		return err
	}
	log.Printf("turn: room %s agent replied [chars=%d took=%s]", spec.ID, len(text), c.now().Sub(started))
	return nil
}

// commitTurn persists the room with next as its turn state and msgs
// appended. On failure the replica is left as it was.
func (c *Coordinator) commitTurn(ctx context.Context, next room.TurnState, msgs ...room.Message) error {
	pending := c.snap.Clone()
	pending.Lifecycle.State = room.Active{Turn: next}
	pending.Lifecycle.ModifiedAt = c.now()
	pending.Messages = append(pending.Messages, msgs...)

	stored, err := c.store.Commit(ctx, pending)
	if err != nil {
		return fmt.Errorf("turn: commit room %s: %w", pending.ID(), err)
	}
	c.setSnap(stored)
	c.record(ctx, msgs)
	return nil
}

func (c *Coordinator) applyEvent(ctx context.Context, ev room.Event) (room.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lc, _, err := room.Step(c.snap.Lifecycle, ev, c.now())
	if err != nil {
		return c.snap.Clone(), fmt.Errorf("turn: room %s: %w", c.snap.ID(), err)
	}
	pending := c.snap.Clone()
	pending.Lifecycle = lc
	stored, err := c.store.Commit(ctx, pending)
	if err != nil {
		return c.snap.Clone(), fmt.Errorf("turn: commit room %s: %w", pending.ID(), err)
	}
	c.setSnap(stored)
	log.Printf("turn: room %s %s -> %s", stored.ID(), ev.Kind(), stored.Lifecycle.State.Kind())
	return stored.Clone(), nil
}

// record mirrors committed messages into the message log.
func (c *Coordinator) record(ctx context.Context, msgs []room.Message) {
	if c.messages == nil {
		return
	}
	for _, m := range msgs {
		if err := c.messages.Save(ctx, m); err != nil {
			log.Printf("turn: room %s save message %s: %v", m.RoomID, m.ID, err)
		}
	}
}
