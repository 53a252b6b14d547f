package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/zulandar/roundtable/internal/room"
)

// describeState renders a room's state in one line.
func describeState(s room.Snapshot) string {
	switch st := s.Lifecycle.State.(type) {
	case room.PendingHumans:
		humans := s.Lifecycle.Spec.Humans()
		return fmt.Sprintf("%s (%d/%d here)", st.Kind(), len(st.Signaled), len(humans))
	case room.Active:
		speaker := s.Lifecycle.Spec.SpeakerAt(st.Turn.CurrentTurnIndex)
		return fmt.Sprintf("%s (turn %d, %s to speak)", st.Kind(), st.Turn.CurrentTurnIndex, speaker.Nickname)
	case room.Locked:
		return fmt.Sprintf("%s after %d turns", st.Kind(), st.FinalTurn.CurrentTurnIndex)
	case room.Defunct:
		return fmt.Sprintf("%s: %s", st.Kind(), st.Reason)
	case nil:
		return "unknown"
	default:
		return string(st.Kind())
	}
}

// printRoom writes a room summary followed by its transcript. local marks
// this device's seat; it may be empty.
func printRoom(out io.Writer, s room.Snapshot, local room.ParticipantID) {
	spec := s.Lifecycle.Spec
	fmt.Fprintf(out, "Room:   %s\n", s.ID())
	fmt.Fprintf(out, "State:  %s\n", describeState(s))
	fmt.Fprintf(out, "Tier:   %s (%d cents)\n", spec.Tier, spec.Tier.Cents())
	if s.Hold != nil {
		fmt.Fprintf(out, "Hold:   %s (%d cents)\n", s.Hold.ID, s.Hold.Cents)
	}

	var raised room.IDSet
	if t, ok := room.TurnOf(s.Lifecycle.State); ok {
		raised = t.RaisedHands
	}
	fmt.Fprintln(out, "\nSeats:")
	for _, p := range s.Participants {
		var marks []string
		if p.HasSignaledHere {
			marks = append(marks, "here")
		}
		if raised.Contains(p.ID) {
			marks = append(marks, "hand raised")
		}
		if p.ID == local {
			marks = append(marks, "you")
		}
		ident := string(p.IdentifierType)
		if p.IdentifierValue != "" {
			ident += ":" + p.IdentifierValue
		}
		line := fmt.Sprintf("  %-10s %-12s %s", p.ID, p.Nickname, ident)
		if len(marks) > 0 {
			line += "  [" + strings.Join(marks, ", ") + "]"
		}
		fmt.Fprintln(out, line)
	}

	if len(s.Messages) > 0 {
		fmt.Fprintln(out, "\nTranscript:")
		for _, m := range s.Messages {
			if m.IsNarration {
				fmt.Fprintf(out, "  * %s\n", m.Text)
				continue
			}
			fmt.Fprintf(out, "  %s: %s\n", m.AuthorName, m.Text)
		}
	}
	if l, ok := s.Lifecycle.State.(room.Locked); ok {
		fmt.Fprintf(out, "\n%s\n", l.ClosingText)
	}
}

// firstLine returns the first line of s, cut to at most n runes.
func firstLine(s string, n int) string {
	s, _, _ = strings.Cut(strings.TrimSpace(s), "\n")
	r := []rune(s)
	if len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}
