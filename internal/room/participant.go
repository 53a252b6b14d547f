// Package room holds the domain model of a Roundtable conversation: the
// immutable room and participant specs, the lifecycle state union, the
// turn state, messages, and the pure lifecycle state machine.
package room

import (
	"fmt"
	"sort"
	"strings"
)

// ParticipantID is the stable, caller-assigned identifier of a seat.
type ParticipantID string

// IdentifierKind tags the variant held by an Identifier.
type IdentifierKind string

const (
	IdentifierEmail        IdentifierKind = "email"
	IdentifierPhone        IdentifierKind = "phone"
	IdentifierLocalAccount IdentifierKind = "local_account"
	IdentifierAgent        IdentifierKind = "agent"
)

// Valid reports whether k is a known identifier kind.
func (k IdentifierKind) Valid() bool {
	switch k {
	case IdentifierEmail, IdentifierPhone, IdentifierLocalAccount, IdentifierAgent:
		return true
	}
	return false
}

// Identifier is how a participant is reached: an email address, a phone
// number, a reference to the local account, or the agent. Value is empty
// for the agent.
type Identifier struct {
	Kind  IdentifierKind `json:"kind"`
	Value string         `json:"value,omitempty"`
}

// Email builds an email identifier.
func Email(addr string) Identifier { return Identifier{Kind: IdentifierEmail, Value: addr} }

// Phone builds a phone identifier.
func Phone(number string) Identifier { return Identifier{Kind: IdentifierPhone, Value: number} }

// LocalAccount builds a local-account-reference identifier.
func LocalAccount(ref string) Identifier {
	return Identifier{Kind: IdentifierLocalAccount, Value: ref}
}

// Agent builds the agent identifier.
func Agent() Identifier { return Identifier{Kind: IdentifierAgent} }

// IsAgent reports whether the identifier refers to the agent.
func (i Identifier) IsAgent() bool { return i.Kind == IdentifierAgent }

func (i Identifier) String() string {
	if i.Kind == IdentifierAgent {
		return "agent"
	}
	return string(i.Kind) + ":" + i.Value
}

// ParticipantSpec describes one seat. It is immutable once a room exists.
type ParticipantSpec struct {
	ID         ParticipantID `json:"id"`
	Identifier Identifier    `json:"identifier"`
	Nickname   string        `json:"nickname"`
}

// IsAgent reports whether the seat belongs to the agent.
func (p ParticipantSpec) IsAgent() bool { return p.Identifier.IsAgent() }

func (p ParticipantSpec) validate() error {
	if strings.TrimSpace(string(p.ID)) == "" {
		return fmt.Errorf("participant id is required")
	}
	if !p.Identifier.Kind.Valid() {
		return fmt.Errorf("participant %s: unknown identifier kind %q", p.ID, p.Identifier.Kind)
	}
	if !p.IsAgent() && strings.TrimSpace(p.Identifier.Value) == "" {
		return fmt.Errorf("participant %s: identifier value is required", p.ID)
	}
	return nil
}

// IDSet is a sorted, duplicate-free set of participant IDs. Values are
// never mutated in place; every operation returns a new set.
type IDSet []ParticipantID

// NewIDSet builds a set from ids in any order.
func NewIDSet(ids ...ParticipantID) IDSet {
	if len(ids) == 0 {
		return IDSet{}
	}
	out := make(IDSet, 0, len(ids))
	seen := make(map[ParticipantID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Contains reports whether id is in the set.
func (s IDSet) Contains(id ParticipantID) bool {
	i := sort.Search(len(s), func(i int) bool { return s[i] >= id })
	return i < len(s) && s[i] == id
}

// With returns s ∪ {id}.
func (s IDSet) With(id ParticipantID) IDSet {
	if s.Contains(id) {
		return s.clone()
	}
	return NewIDSet(append(s.clone(), id)...)
}

// Without returns s \ {id}.
func (s IDSet) Without(id ParticipantID) IDSet {
	out := make(IDSet, 0, len(s))
	for _, v := range s {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// Union returns s ∪ o.
func (s IDSet) Union(o IDSet) IDSet {
	all := make([]ParticipantID, 0, len(s)+len(o))
	all = append(all, s...)
	all = append(all, o...)
	return NewIDSet(all...)
}

// Equal reports whether both sets hold the same members.
func (s IDSet) Equal(o IDSet) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// ContainsAll reports whether every id in o is in s.
func (s IDSet) ContainsAll(o IDSet) bool {
	for _, id := range o {
		if !s.Contains(id) {
			return false
		}
	}
	return true
}

func (s IDSet) clone() IDSet {
	out := make(IDSet, len(s))
	copy(out, s)
	return out
}
