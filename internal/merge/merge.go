// Package merge reconciles two independently evolved copies of a room.
//
// Two modes exist and the caller picks one:
//
//   - HigherTurnWins joins two snapshots that both advanced on their own
//     (local vs. remote fetch, or a pending write vs. the record that beat
//     it). Turn indexes take the max, raised hands and messages are unioned.
//   - RemoteWins adopts an authoritative remote copy wholesale, keeping only
//     local identity-correlation values and signaled flags the remote side
//     has not caught up with.
//
// Every function here is total and deterministic; merging never fails.
package merge

import (
	"sort"

	"github.com/zulandar/roundtable/internal/room"
)

// Turn merges two turn states: the index is the max of both sides, raised
// hands are unioned, and the current need prefers whichever side has one,
// local first.
func Turn(local, remote room.TurnState) room.TurnState {
	out := room.TurnState{
		CurrentTurnIndex: max(local.CurrentTurnIndex, remote.CurrentTurnIndex),
		RaisedHands:      local.RaisedHands.Union(remote.RaisedHands),
	}
	switch {
	case local.CurrentNeed != nil:
		n := *local.CurrentNeed
		out.CurrentNeed = &n
	case remote.CurrentNeed != nil:
		n := *remote.CurrentNeed
		out.CurrentNeed = &n
	}
	return out
}

// Messages unions two transcripts on message id and sorts the result by
// creation time, then id. When both sides carry the same id the local copy
// is kept.
func Messages(local, remote []room.Message) []room.Message {
	byID := make(map[string]room.Message, len(local)+len(remote))
	for _, m := range remote {
		byID[m.ID] = m
	}
	for _, m := range local {
		byID[m.ID] = m
	}
	out := make([]room.Message, 0, len(byID))
	for _, m := range byID {
		out = append(out, m)
	}
	sortMessages(out)
	return out
}

func sortMessages(msgs []room.Message) {
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
}

// Participants joins the embedded participant records of both sides by id.
// Identity correlation keeps the local non-nil value, else the remote one;
// HasSignaledHere is true if either side saw the signal. The result is in
// seating order.
func Participants(local, remote []room.EmbeddedParticipant) []room.EmbeddedParticipant {
	remoteByID := make(map[room.ParticipantID]room.EmbeddedParticipant, len(remote))
	for _, p := range remote {
		remoteByID[p.ID] = p
	}

	out := make([]room.EmbeddedParticipant, 0, len(local)+len(remote))
	seen := make(map[room.ParticipantID]struct{}, len(local))
	for _, lp := range local {
		seen[lp.ID] = struct{}{}
		merged := copyParticipant(lp)
		if rp, ok := remoteByID[lp.ID]; ok {
			merged.HasSignaledHere = lp.HasSignaledHere || rp.HasSignaledHere
			if merged.IdentityCorrelationID == nil && rp.IdentityCorrelationID != nil {
				v := *rp.IdentityCorrelationID
				merged.IdentityCorrelationID = &v
			}
		}
		out = append(out, merged)
	}
	for _, rp := range remote {
		if _, ok := seen[rp.ID]; !ok {
			out = append(out, copyParticipant(rp))
		}
	}
	sortParticipants(out)
	return out
}

func copyParticipant(p room.EmbeddedParticipant) room.EmbeddedParticipant {
	if p.IdentityCorrelationID != nil {
		v := *p.IdentityCorrelationID
		p.IdentityCorrelationID = &v
	}
	return p
}

func sortParticipants(ps []room.EmbeddedParticipant) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].OrderIndex != ps[j].OrderIndex {
			return ps[i].OrderIndex < ps[j].OrderIndex
		}
		return ps[i].ID < ps[j].ID
	})
}

// HigherTurnWins merges two snapshots that advanced independently.
func HigherTurnWins(local, remote room.Snapshot) room.Snapshot {
	out := room.Snapshot{
		Lifecycle: room.RoomLifecycle{
			Spec:       local.Lifecycle.Spec,
			State:      State(local.Lifecycle, remote.Lifecycle),
			ModifiedAt: latest(local.Lifecycle.ModifiedAt, remote.Lifecycle.ModifiedAt),
		},
		Participants: Participants(local.Participants, remote.Participants),
		Messages:     Messages(local.Messages, remote.Messages),
		Hold:         mergeHold(local, remote),
		Version:      max(local.Version, remote.Version),
	}
	return out
}

// RemoteWins adopts remote, preserving local identity-correlation values
// the remote side lacks and never regressing HasSignaledHere.
func RemoteWins(local, remote room.Snapshot) room.Snapshot {
	out := remote.Clone()
	localByID := make(map[room.ParticipantID]room.EmbeddedParticipant, len(local.Participants))
	for _, p := range local.Participants {
		localByID[p.ID] = p
	}
	for i, rp := range out.Participants {
		lp, ok := localByID[rp.ID]
		if !ok {
			continue
		}
		if rp.IdentityCorrelationID == nil && lp.IdentityCorrelationID != nil {
			v := *lp.IdentityCorrelationID
			out.Participants[i].IdentityCorrelationID = &v
		}
		if lp.HasSignaledHere {
			out.Participants[i].HasSignaledHere = true
		}
	}
	return out
}

// mergeHold keeps the outstanding hold unless either side has already
// released or captured it.
func mergeHold(local, remote room.Snapshot) *room.Hold {
	if holdSettled(local) || holdSettled(remote) {
		return nil
	}
	h := local.Hold
	if h == nil {
		h = remote.Hold
	}
	if h == nil {
		return nil
	}
	c := *h
	return &c
}

// holdSettled reports whether s has moved past its hold: it has no hold
// and is neither still in draft nor in a hold-bearing state.
func holdSettled(s room.Snapshot) bool {
	if s.Hold != nil {
		return false
	}
	st := s.Lifecycle.State
	return st != nil && st.Kind() != room.StateDraft && !room.HoldsAuthorization(st)
}
