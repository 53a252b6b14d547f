// Package identity maps the local device's credential onto a seat in a
// room and stamps that credential onto the seat the first time it is seen.
package identity

import (
	"strings"
	"unicode"

	"github.com/zulandar/roundtable/internal/room"
)

// FindLocalParticipant returns the seat the local device occupies.
//
// An exact identity-correlation match always wins. When the room was
// originated on this device (isSharedRoom is false) the single
// local-account seat is used as a fallback; for shared rooms that fallback
// is disabled so another device's owner seat is never claimed. The agent
// seat is never returned.
func FindLocalParticipant(participants []room.EmbeddedParticipant, localCredential string, isSharedRoom bool) (room.ParticipantID, bool) {
	if localCredential != "" {
		for _, p := range participants {
			if p.IsAgent() {
				continue
			}
			if p.IdentityCorrelationID != nil && *p.IdentityCorrelationID == localCredential {
				return p.ID, true
			}
		}
	}
	if isSharedRoom {
		return "", false
	}

	var owner *room.EmbeddedParticipant
	for i := range participants {
		if participants[i].IdentifierType != room.IdentifierLocalAccount {
			continue
		}
		if owner != nil {
			// More than one owner seat is ambiguous.
			return "", false
		}
		owner = &participants[i]
	}
	if owner == nil {
		return "", false
	}
	return owner.ID, true
}

// PopulateIdentityCorrelationID stamps localCredential onto the first seat
// that still has no correlation, is neither the agent nor the owner seat,
// and whose identifier matches observedCredential. It is idempotent: if any
// seat already carries localCredential the input is returned unchanged.
// The returned slice is a copy; changed reports whether a seat was stamped.
func PopulateIdentityCorrelationID(participants []room.EmbeddedParticipant, observedCredential, localCredential string) (out []room.EmbeddedParticipant, changed bool) {
	out = make([]room.EmbeddedParticipant, len(participants))
	copy(out, participants)
	if localCredential == "" || observedCredential == "" {
		return out, false
	}

	for _, p := range out {
		if p.IdentityCorrelationID != nil && *p.IdentityCorrelationID == localCredential {
			return out, false
		}
	}

	for i, p := range out {
		if p.IsAgent() || p.IdentifierType == room.IdentifierLocalAccount || p.IdentityCorrelationID != nil {
			continue
		}
		if !Matches(p.IdentifierType, p.IdentifierValue, observedCredential) {
			continue
		}
		cred := localCredential
		out[i].IdentityCorrelationID = &cred
		return out, true
	}
	return out, false
}

// ClaimSeat runs PopulateIdentityCorrelationID for each alias in turn and
// stops at the first one that stamps a seat, returning that alias.
func ClaimSeat(participants []room.EmbeddedParticipant, aliases []string, localCredential string) (out []room.EmbeddedParticipant, alias string, changed bool) {
	for _, a := range aliases {
		if out, changed = PopulateIdentityCorrelationID(participants, a, localCredential); changed {
			return out, a, true
		}
	}
	out = make([]room.EmbeddedParticipant, len(participants))
	copy(out, participants)
	return out, "", false
}

// Matches reports whether an observed credential refers to the identifier
// (kind, value) after normalisation.
func Matches(kind room.IdentifierKind, value, observed string) bool {
	switch kind {
	case room.IdentifierEmail:
		return NormalizeEmail(value) == NormalizeEmail(observed)
	case room.IdentifierPhone:
		a, b := NormalizePhone(value), NormalizePhone(observed)
		return a != "" && a == b
	case room.IdentifierAgent:
		return false
	}
	return strings.TrimSpace(value) == strings.TrimSpace(observed)
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// NormalizePhone keeps a leading '+' and the digits of a phone number.
func NormalizePhone(number string) string {
	number = strings.TrimSpace(number)
	var b strings.Builder
	for i, r := range number {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 || b.String() == "+" {
		return ""
	}
	return b.String()
}
