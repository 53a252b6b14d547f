// Package invite tells the humans of a room that it is waiting for them.
// Dispatchers post to Slack, Discord or the log, and Multi fans out to
// several of them.
package invite

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/zulandar/roundtable/internal/creation"
	"github.com/zulandar/roundtable/internal/room"
)

// Invitee is one human a room is waiting on.
type Invitee struct {
	ID         room.ParticipantID
	Nickname   string
	Identifier string
}

// Invitation is the platform-neutral content of an invite.
type Invitation struct {
	RoomID     string
	Originator string
	Tier       room.Tier
	Waiting    []Invitee
}

// Build collects the humans of s who have not signaled yet.
func Build(s room.Snapshot) Invitation {
	inv := Invitation{RoomID: s.ID(), Tier: s.Lifecycle.Spec.Tier}
	for _, p := range s.Participants {
		if p.ID == s.Lifecycle.Spec.OriginatorID {
			inv.Originator = p.Nickname
		}
		if p.IsAgent() || p.HasSignaledHere {
			continue
		}
		inv.Waiting = append(inv.Waiting, Invitee{
			ID:         p.ID,
			Nickname:   p.Nickname,
			Identifier: room.Identifier{Kind: p.IdentifierType, Value: p.IdentifierValue}.String(),
		})
	}
	return inv
}

// Title is the one-line summary of the invite.
func (inv Invitation) Title() string {
	if inv.Originator != "" {
		return fmt.Sprintf("%s opened a %s room", inv.Originator, inv.Tier)
	}
	return fmt.Sprintf("A %s room is open", inv.Tier)
}

// Text renders the invite as plain text.
func (inv Invitation) Text() string {
	var b strings.Builder
	b.WriteString(inv.Title())
	fmt.Fprintf(&b, " (room %s).", inv.RoomID)
	if len(inv.Waiting) > 0 {
		names := make([]string, len(inv.Waiting))
		for i, w := range inv.Waiting {
			names[i] = w.Nickname
		}
		fmt.Fprintf(&b, " Waiting for: %s.", strings.Join(names, ", "))
	}
	return b.String()
}

// Log writes invites to the process log. It is the dispatcher used when no
// chat platform is configured.
type Log struct{}

// DispatchInvites implements creation.InviteDispatcher.
func (Log) DispatchInvites(_ context.Context, s room.Snapshot) error {
	log.Printf("invite: %s", Build(s).Text())
	return nil
}

// Multi sends every invite through each dispatcher. All dispatchers are
// tried; their failures are joined.
type Multi []creation.InviteDispatcher

// DispatchInvites implements creation.InviteDispatcher.
func (m Multi) DispatchInvites(ctx context.Context, s room.Snapshot) error {
	var errs []error
	for _, d := range m {
		if err := d.DispatchInvites(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
