package room

import (
	"fmt"
	"time"
)

// StateKind names the variant of a RoomState.
type StateKind string

const (
	StateDraft                  StateKind = "draft"
	StatePendingAgentAcceptance StateKind = "pending_agent_acceptance"
	StatePendingHumans          StateKind = "pending_humans"
	StatePendingCapture         StateKind = "pending_capture"
	StateActive                 StateKind = "active"
	StateLocked                 StateKind = "locked"
	StateDefunct                StateKind = "defunct"
)

// RoomState is the lifecycle state of a room. The concrete variants are
// Draft, PendingAgentAcceptance, PendingHumans, PendingCapture, Active,
// Locked and Defunct; no other type implements it.
type RoomState interface {
	Kind() StateKind
	isRoomState()
}

// Draft is the initial state while participants are resolved and payment
// is authorised.
type Draft struct{}

// PendingAgentAcceptance waits for the agent evaluator.
type PendingAgentAcceptance struct{}

// PendingHumans waits for every human seat to signal presence.
type PendingHumans struct {
	Signaled IDSet `json:"signaled"`
}

// PendingCapture waits for the held payment to be captured.
type PendingCapture struct{}

// Active is a live conversation.
type Active struct {
	Turn TurnState `json:"turn"`
}

// Locked is a finished conversation with its closing text. Terminal.
type Locked struct {
	ClosingText string    `json:"closing_text"`
	FinalTurn   TurnState `json:"final_turn"`
}

// Defunct is a room that failed or was abandoned. Terminal.
type Defunct struct {
	Reason DefunctReason `json:"reason"`
}

func (Draft) Kind() StateKind                  { return StateDraft }
func (PendingAgentAcceptance) Kind() StateKind { return StatePendingAgentAcceptance }
func (PendingHumans) Kind() StateKind          { return StatePendingHumans }
func (PendingCapture) Kind() StateKind         { return StatePendingCapture }
func (Active) Kind() StateKind                 { return StateActive }
func (Locked) Kind() StateKind                 { return StateLocked }
func (Defunct) Kind() StateKind                { return StateDefunct }

func (Draft) isRoomState()                  {}
func (PendingAgentAcceptance) isRoomState() {}
func (PendingHumans) isRoomState()          {}
func (PendingCapture) isRoomState()         {}
func (Active) isRoomState()                 {}
func (Locked) isRoomState()                 {}
func (Defunct) isRoomState()                {}

// IsTerminal reports whether no event can move the room out of s.
func IsTerminal(s RoomState) bool {
	switch s.(type) {
	case Locked, Defunct:
		return true
	}
	return false
}

// HoldsAuthorization reports whether a room in s carries an uncaptured
// payment hold.
func HoldsAuthorization(s RoomState) bool {
	switch s.(type) {
	case PendingAgentAcceptance, PendingHumans, PendingCapture:
		return true
	}
	return false
}

// TurnOf returns the turn state carried by s, if any.
func TurnOf(s RoomState) (TurnState, bool) {
	switch st := s.(type) {
	case Active:
		return st.Turn, true
	case Locked:
		return st.FinalTurn, true
	}
	return TurnState{}, false
}

// NeedKind names a pending out-of-band request.
type NeedKind string

// NeedAgentWantsToSpeak asks whether the agent wants the floor.
const NeedAgentWantsToSpeak NeedKind = "agent_wants_to_speak"

// Need is an optional pending out-of-band request attached to the turn.
type Need struct {
	Kind          NeedKind      `json:"kind"`
	ParticipantID ParticipantID `json:"participant_id,omitempty"`
	RequestedAt   time.Time     `json:"requested_at"`
}

// TurnState tracks speaking order. CurrentTurnIndex only ever increases
// and is never stored modulo the participant count.
type TurnState struct {
	CurrentTurnIndex uint64 `json:"current_turn_index"`
	RaisedHands      IDSet  `json:"raised_hands"`
	CurrentNeed      *Need  `json:"current_need,omitempty"`
}

// InitialTurn is the turn state a room activates with.
func InitialTurn() TurnState {
	return TurnState{RaisedHands: IDSet{}}
}

// Advanced returns t with the index moved forward by one.
func (t TurnState) Advanced() TurnState {
	t.RaisedHands = t.RaisedHands.clone()
	t.CurrentTurnIndex++
	return t
}

// DefunctKind names why a room became defunct.
type DefunctKind string

const (
	DefunctResolutionFailed     DefunctKind = "resolution_failed"
	DefunctPaymentAuthFailed    DefunctKind = "payment_authorization_failed"
	DefunctAgentDeclined        DefunctKind = "agent_declined"
	DefunctPaymentCaptureFailed DefunctKind = "payment_capture_failed"
	DefunctParticipantDeclined  DefunctKind = "participant_declined"
	DefunctParticipantLeft      DefunctKind = "participant_left"
	DefunctCancelled            DefunctKind = "cancelled"
	DefunctExpired              DefunctKind = "expired"
)

// DefunctReason explains a Defunct state. ParticipantID is set for the
// resolution, decline and leave reasons.
type DefunctReason struct {
	Kind          DefunctKind   `json:"kind"`
	ParticipantID ParticipantID `json:"participant_id,omitempty"`
}

func (r DefunctReason) String() string {
	if r.ParticipantID != "" {
		return fmt.Sprintf("%s(%s)", r.Kind, r.ParticipantID)
	}
	return string(r.Kind)
}

// RoomLifecycle is a room spec with its current state. It is only ever
// changed by Apply/Step or by building a new value during a merge.
type RoomLifecycle struct {
	Spec       RoomSpec  `json:"spec"`
	State      RoomState `json:"-"`
	ModifiedAt time.Time `json:"modified_at"`
}

// NewLifecycle creates a lifecycle in Draft after validating spec.
func NewLifecycle(spec RoomSpec) (RoomLifecycle, error) {
	if err := spec.Validate(); err != nil {
		return RoomLifecycle{}, err
	}
	return RoomLifecycle{Spec: spec, State: Draft{}, ModifiedAt: spec.CreatedAt}, nil
}

// Message is one entry in a room's transcript.
type Message struct {
	ID          string        `json:"id"`
	RoomID      string        `json:"room_id"`
	AuthorID    ParticipantID `json:"author_id"`
	AuthorName  string        `json:"author_name"`
	Text        string        `json:"text"`
	CreatedAt   time.Time     `json:"created_at"`
	IsAgent     bool          `json:"is_agent"`
	IsNarration bool          `json:"is_narration"`
}

// EmbeddedParticipant is the denormalised per-room participant record.
// OrderIndex is the seating order and therefore the rotation order.
type EmbeddedParticipant struct {
	ID                    ParticipantID  `json:"id"`
	Nickname              string         `json:"nickname"`
	IdentifierType        IdentifierKind `json:"identifier_type"`
	IdentifierValue       string         `json:"identifier_value,omitempty"`
	OrderIndex            int            `json:"order_index"`
	HasSignaledHere       bool           `json:"has_signaled_here"`
	IdentityCorrelationID *string        `json:"identity_correlation_id,omitempty"`
}

// IsAgent reports whether the record is the agent seat.
func (p EmbeddedParticipant) IsAgent() bool { return p.IdentifierType == IdentifierAgent }

// Hold is an authorised-but-not-captured payment reservation.
type Hold struct {
	ID    string `json:"id"`
	Cents int64  `json:"cents"`
}

// Snapshot is the full replicated record of one room: lifecycle, embedded
// participants, embedded messages, the outstanding hold, and the storage
// version used for optimistic concurrency.
type Snapshot struct {
	Lifecycle    RoomLifecycle
	Participants []EmbeddedParticipant
	Messages     []Message
	Hold         *Hold
	Version      int64
}

// NewSnapshot builds the draft snapshot for spec.
func NewSnapshot(spec RoomSpec) (Snapshot, error) {
	lc, err := NewLifecycle(spec)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Lifecycle:    lc,
		Participants: spec.EmbeddedParticipants(),
		Messages:     []Message{},
	}, nil
}

// ID returns the room id.
func (s Snapshot) ID() string { return s.Lifecycle.Spec.ID }

// Clone returns a deep copy safe to mutate.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Participants = make([]EmbeddedParticipant, len(s.Participants))
	for i, p := range s.Participants {
		if p.IdentityCorrelationID != nil {
			v := *p.IdentityCorrelationID
			p.IdentityCorrelationID = &v
		}
		out.Participants[i] = p
	}
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	if s.Hold != nil {
		h := *s.Hold
		out.Hold = &h
	}
	return out
}

// MarkSignaled sets HasSignaledHere on the participant with id.
func (s *Snapshot) MarkSignaled(id ParticipantID) {
	for i := range s.Participants {
		if s.Participants[i].ID == id {
			s.Participants[i].HasSignaledHere = true
		}
	}
}
