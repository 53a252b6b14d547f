package room

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestRoomSpec_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RoomSpec)
		wantErr string
	}{
		{name: "valid", mutate: func(*RoomSpec) {}},
		{
			name:    "empty roster",
			mutate:  func(s *RoomSpec) { s.Participants = nil },
			wantErr: "participants must not be empty",
		},
		{
			name: "duplicate ids",
			mutate: func(s *RoomSpec) {
				s.Participants = append(s.Participants, ParticipantSpec{ID: "mira", Identifier: Phone("+15550100")})
			},
			wantErr: "duplicate participant id mira",
		},
		{
			name:    "originator missing",
			mutate:  func(s *RoomSpec) { s.OriginatorID = "nobody" },
			wantErr: `originator "nobody" is not a participant`,
		},
		{
			name:    "originator is agent",
			mutate:  func(s *RoomSpec) { s.OriginatorID = "agent" },
			wantErr: "originator must not be the agent",
		},
		{
			name:    "no agent",
			mutate:  func(s *RoomSpec) { s.Participants = s.Participants[:1] },
			wantErr: "exactly one agent seat is required, got 0",
		},
		{
			name:    "unpriced tier",
			mutate:  func(s *RoomSpec) { s.Tier = TierUnspecified },
			wantErr: "unknown tier 0",
		},
		{
			name: "missing identifier value",
			mutate: func(s *RoomSpec) {
				s.Participants[2].Identifier = Email("  ")
			},
			wantErr: "participant mira: identifier value is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := testSpec()
			spec.Participants = append([]ParticipantSpec(nil), spec.Participants...)
			tt.mutate(&spec)
			err := spec.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !errors.Is(err, ErrInvalidSpec) {
				t.Errorf("error %v does not wrap ErrInvalidSpec", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestTier(t *testing.T) {
	if got := TierStandard.Cents(); got != 1000 {
		t.Errorf("TierStandard.Cents() = %d, want 1000", got)
	}
	tier, err := ParseTier("Premium")
	if err != nil || tier != TierPremium {
		t.Errorf("ParseTier(Premium) = %v, %v", tier, err)
	}
	if _, err := ParseTier("gold"); err == nil {
		t.Error("expected error for unknown tier")
	}

	spec := testSpec()
	if got := spec.AuthorizationCents(); got != 1000 {
		t.Errorf("AuthorizationCents = %d, want 1000", got)
	}
	spec.IsFirstRoom = true
	if got := spec.AuthorizationCents(); got != 0 {
		t.Errorf("first room AuthorizationCents = %d, want 0", got)
	}
}

func TestRoomSpec_SpeakerAtWraps(t *testing.T) {
	spec := testSpec()
	want := []ParticipantID{"jax", "agent", "mira", "jax", "agent"}
	for i, id := range want {
		if got := spec.SpeakerAt(uint64(i)).ID; got != id {
			t.Errorf("SpeakerAt(%d) = %s, want %s", i, got, id)
		}
	}
}

func TestIDSet(t *testing.T) {
	s := NewIDSet("b", "a", "b")
	if !reflect.DeepEqual(s, IDSet{"a", "b"}) {
		t.Fatalf("NewIDSet = %v", s)
	}
	with := s.With("c")
	if !with.Contains("c") || s.Contains("c") {
		t.Errorf("With mutated receiver or missed member: %v / %v", s, with)
	}
	if got := with.Without("a"); !got.Equal(NewIDSet("b", "c")) {
		t.Errorf("Without = %v", got)
	}
	if got := s.Union(NewIDSet("c", "a")); !got.Equal(NewIDSet("a", "b", "c")) {
		t.Errorf("Union = %v", got)
	}
	if !with.ContainsAll(s) || s.ContainsAll(with) {
		t.Error("ContainsAll mismatch")
	}
}

func TestRoomLifecycle_JSON(t *testing.T) {
	lc, err := NewLifecycle(testSpec())
	if err != nil {
		t.Fatalf("NewLifecycle: %v", err)
	}
	lc.State = Locked{ClosingText: "done", FinalTurn: TurnState{CurrentTurnIndex: 9, RaisedHands: NewIDSet("jax")}}

	data, err := json.Marshal(lc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"kind":"locked"`) {
		t.Errorf("encoded state missing kind: %s", data)
	}

	var back RoomLifecycle
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(back.State, lc.State) {
		t.Errorf("state = %#v, want %#v", back.State, lc.State)
	}
}

func TestStateRecord_RejectsUnknownKind(t *testing.T) {
	if _, err := (StateRecord{Kind: "limbo"}).State(); err == nil {
		t.Error("expected error for unknown kind")
	}
	if _, err := (StateRecord{Kind: StateDefunct}).State(); err == nil {
		t.Error("expected error for defunct without reason")
	}
}

func TestSnapshot_CloneIsDeep(t *testing.T) {
	snap, err := NewSnapshot(testSpec())
	if err != nil {
		t.Fatalf("NewSnapshot: %v", err)
	}
	cred := "device-1"
	snap.Participants[0].IdentityCorrelationID = &cred
	snap.Hold = &Hold{ID: "h1", Cents: 1000}

	c := snap.Clone()
	*c.Participants[0].IdentityCorrelationID = "device-2"
	c.Hold.ID = "h2"
	c.MarkSignaled("mira")

	if *snap.Participants[0].IdentityCorrelationID != "device-1" {
		t.Error("clone shares correlation pointer")
	}
	if snap.Hold.ID != "h1" {
		t.Error("clone shares hold")
	}
	if snap.Participants[2].HasSignaledHere {
		t.Error("clone shares participant slice")
	}
}
