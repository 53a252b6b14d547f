package merge

import (
	"time"

	"github.com/zulandar/roundtable/internal/room"
)

// progress orders states along the lifecycle. Both terminal states share
// the top rank.
func progress(s room.RoomState) int {
	switch s.(type) {
	case room.Draft:
		return 0
	case room.PendingAgentAcceptance:
		return 1
	case room.PendingHumans:
		return 2
	case room.PendingCapture:
		return 3
	case room.Active:
		return 4
	case room.Locked, room.Defunct:
		return 5
	}
	return -1
}

// State merges the lifecycle states of two copies under higher-turn-wins.
// The further-progressed state wins; pending-humans sets are unioned, and a
// union covering every human moves on to PendingCapture. Turn indexes never
// regress, including into a Locked final turn. When both
// copies are terminal, the one that got there first wins and the local
// copy breaks exact ties. ModifiedAt is only ever a tiebreak.
func State(local, remote room.RoomLifecycle) room.RoomState {
	ls, rs := local.State, remote.State
	if ls == nil {
		ls = room.Draft{}
	}
	if rs == nil {
		rs = room.Draft{}
	}
	lp, rp := progress(ls), progress(rs)

	switch {
	case lp > rp:
		return absorb(ls, rs)
	case rp > lp:
		return absorb(rs, ls)
	}

	switch l := ls.(type) {
	case room.PendingHumans:
		r := rs.(room.PendingHumans)
		signaled := l.Signaled.Union(r.Signaled)
		humans := local.Spec.Humans()
		if len(humans) > 0 && signaled.ContainsAll(humans) {
			return room.PendingCapture{}
		}
		return room.PendingHumans{Signaled: signaled}
	case room.Active:
		r := rs.(room.Active)
		return room.Active{Turn: Turn(l.Turn, r.Turn)}
	case room.Locked, room.Defunct:
		winner, loser := ls, rs
		if remote.ModifiedAt.Before(local.ModifiedAt) {
			winner, loser = rs, ls
		}
		return absorb(winner, loser)
	}
	return ls
}

// absorb returns winner, folding in any turn progress the loser made so the
// turn index never moves backwards.
func absorb(winner, loser room.RoomState) room.RoomState {
	loserTurn, ok := room.TurnOf(loser)
	if !ok {
		return winner
	}
	switch w := winner.(type) {
	case room.Active:
		return room.Active{Turn: Turn(w.Turn, loserTurn)}
	case room.Locked:
		return room.Locked{ClosingText: w.ClosingText, FinalTurn: Turn(w.FinalTurn, loserTurn)}
	}
	return winner
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
