package room

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Tier is the payment bracket of a room.
type Tier int

const (
	// TierUnspecified is the zero value and is never valid on a room.
	TierUnspecified Tier = iota
	// TierBasic costs $5.
	TierBasic
	// TierStandard costs $10.
	TierStandard
	// TierPremium costs $20.
	TierPremium
)

var tierCents = map[Tier]int64{
	TierBasic:    500,
	TierStandard: 1000,
	TierPremium:  2000,
}

var tierNames = map[Tier]string{
	TierBasic:    "basic",
	TierStandard: "standard",
	TierPremium:  "premium",
}

// Cents returns the fixed price of the tier in cents.
func (t Tier) Cents() int64 { return tierCents[t] }

// Valid reports whether t is a priced tier.
func (t Tier) Valid() bool {
	_, ok := tierCents[t]
	return ok
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// ParseTier maps a tier name ("basic", "standard", "premium") to a Tier.
func ParseTier(name string) (Tier, error) {
	for t, n := range tierNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return t, nil
		}
	}
	return TierUnspecified, fmt.Errorf("room: unknown tier %q", name)
}

// ErrInvalidSpec is wrapped by every RoomSpec validation failure.
var ErrInvalidSpec = errors.New("room: invalid spec")

// RoomSpec is the immutable description of a room.
type RoomSpec struct {
	ID           string            `json:"id"`
	OriginatorID ParticipantID     `json:"originator_id"`
	Participants []ParticipantSpec `json:"participants"`
	Tier         Tier              `json:"tier"`
	IsFirstRoom  bool              `json:"is_first_room"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Validate checks the structural invariants of a spec: a non-empty roster
// with unique ids, exactly one agent seat, an originator that is a human
// participant, and a priced tier.
func (s RoomSpec) Validate() error {
	var errs []string
	if strings.TrimSpace(s.ID) == "" {
		errs = append(errs, "id is required")
	}
	if len(s.Participants) == 0 {
		errs = append(errs, "participants must not be empty")
	}
	seen := make(map[ParticipantID]struct{}, len(s.Participants))
	agents := 0
	for _, p := range s.Participants {
		if err := p.validate(); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if _, dup := seen[p.ID]; dup {
			errs = append(errs, fmt.Sprintf("duplicate participant id %s", p.ID))
		}
		seen[p.ID] = struct{}{}
		if p.IsAgent() {
			agents++
		}
	}
	if agents != 1 {
		errs = append(errs, fmt.Sprintf("exactly one agent seat is required, got %d", agents))
	}
	if orig, ok := s.Participant(s.OriginatorID); !ok {
		errs = append(errs, fmt.Sprintf("originator %q is not a participant", s.OriginatorID))
	} else if orig.IsAgent() {
		errs = append(errs, "originator must not be the agent")
	}
	if !s.Tier.Valid() {
		errs = append(errs, fmt.Sprintf("unknown tier %d", int(s.Tier)))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSpec, strings.Join(errs, "; "))
	}
	return nil
}

// Participant looks up a seat by id.
func (s RoomSpec) Participant(id ParticipantID) (ParticipantSpec, bool) {
	for _, p := range s.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return ParticipantSpec{}, false
}

// Humans returns the ids of every non-agent seat.
func (s RoomSpec) Humans() IDSet {
	ids := make([]ParticipantID, 0, len(s.Participants))
	for _, p := range s.Participants {
		if !p.IsAgent() {
			ids = append(ids, p.ID)
		}
	}
	return NewIDSet(ids...)
}

// AgentID returns the id of the agent seat.
func (s RoomSpec) AgentID() (ParticipantID, bool) {
	for _, p := range s.Participants {
		if p.IsAgent() {
			return p.ID, true
		}
	}
	return "", false
}

// AuthorizationCents is the amount held at authorization time. First rooms
// are free.
func (s RoomSpec) AuthorizationCents() int64 {
	if s.IsFirstRoom {
		return 0
	}
	return s.Tier.Cents()
}

// SpeakerAt returns the seat whose turn it is at index. The index is only
// reduced modulo the participant count here, never in storage.
func (s RoomSpec) SpeakerAt(index uint64) ParticipantSpec {
	return s.Participants[index%uint64(len(s.Participants))]
}

// EmbeddedParticipants builds the denormalised per-room participant records
// in seating order.
func (s RoomSpec) EmbeddedParticipants() []EmbeddedParticipant {
	out := make([]EmbeddedParticipant, len(s.Participants))
	for i, p := range s.Participants {
		out[i] = EmbeddedParticipant{
			ID:              p.ID,
			Nickname:        p.Nickname,
			IdentifierType:  p.Identifier.Kind,
			IdentifierValue: p.Identifier.Value,
			OrderIndex:      i,
		}
	}
	return out
}
