package room

import (
	"encoding/json"
	"fmt"
	"time"
)

// StateRecord is the flat, serialisable form of a RoomState.
type StateRecord struct {
	Kind        StateKind      `json:"kind"`
	Signaled    IDSet          `json:"signaled,omitempty"`
	ClosingText string         `json:"closing_text,omitempty"`
	Reason      *DefunctReason `json:"reason,omitempty"`
	Turn        *TurnState     `json:"turn,omitempty"`
}

// RecordOf flattens s.
func RecordOf(s RoomState) StateRecord {
	rec := StateRecord{Kind: s.Kind()}
	switch st := s.(type) {
	case PendingHumans:
		rec.Signaled = st.Signaled
		if rec.Signaled == nil {
			rec.Signaled = IDSet{}
		}
	case Active:
		t := st.Turn
		rec.Turn = &t
	case Locked:
		t := st.FinalTurn
		rec.Turn = &t
		rec.ClosingText = st.ClosingText
	case Defunct:
		r := st.Reason
		rec.Reason = &r
	}
	return rec
}

// State rebuilds the RoomState described by r.
func (r StateRecord) State() (RoomState, error) {
	turn := InitialTurn()
	if r.Turn != nil {
		turn = *r.Turn
		if turn.RaisedHands == nil {
			turn.RaisedHands = IDSet{}
		}
	}
	switch r.Kind {
	case StateDraft:
		return Draft{}, nil
	case StatePendingAgentAcceptance:
		return PendingAgentAcceptance{}, nil
	case StatePendingHumans:
		return PendingHumans{Signaled: NewIDSet(r.Signaled...)}, nil
	case StatePendingCapture:
		return PendingCapture{}, nil
	case StateActive:
		return Active{Turn: turn}, nil
	case StateLocked:
		return Locked{ClosingText: r.ClosingText, FinalTurn: turn}, nil
	case StateDefunct:
		if r.Reason == nil {
			return nil, fmt.Errorf("room: defunct state without reason")
		}
		return Defunct{Reason: *r.Reason}, nil
	}
	return nil, fmt.Errorf("room: unknown state kind %q", r.Kind)
}

type lifecycleJSON struct {
	Spec       RoomSpec    `json:"spec"`
	State      StateRecord `json:"state"`
	ModifiedAt time.Time   `json:"modified_at"`
}

// MarshalJSON encodes the lifecycle with its state flattened.
func (lc RoomLifecycle) MarshalJSON() ([]byte, error) {
	state := lc.State
	if state == nil {
		state = Draft{}
	}
	return json.Marshal(lifecycleJSON{Spec: lc.Spec, State: RecordOf(state), ModifiedAt: lc.ModifiedAt})
}

// UnmarshalJSON decodes a lifecycle written by MarshalJSON.
func (lc *RoomLifecycle) UnmarshalJSON(data []byte) error {
	var raw lifecycleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	state, err := raw.State.State()
	if err != nil {
		return err
	}
	*lc = RoomLifecycle{Spec: raw.Spec, State: state, ModifiedAt: raw.ModifiedAt}
	return nil
}
