// Package directory resolves participant identifiers to canonical
// references for room creation.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/roundtable/internal/creation"
	"github.com/zulandar/roundtable/internal/identity"
	"github.com/zulandar/roundtable/internal/room"
)

// AgentRef is the canonical reference every agent seat resolves to.
const AgentRef = "agent"

// Static resolves identifiers from a fixed table, usually the directory.static
// section of the config. The agent and local accounts always resolve.
type Static struct {
	entries map[string]string
}

// NewStatic builds a Static directory. Keys are normalised so lookups ignore
// case of emails and punctuation of phone numbers.
func NewStatic(entries map[string]string) *Static {
	s := &Static{entries: make(map[string]string, len(entries))}
	for k, v := range entries {
		s.entries[normalizeKey(k)] = v
	}
	return s
}

// Resolve implements creation.Resolver.
func (s *Static) Resolve(ctx context.Context, p room.ParticipantSpec) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	switch p.Identifier.Kind {
	case room.IdentifierAgent:
		return AgentRef, nil
	case room.IdentifierLocalAccount:
		if ref, ok := s.entries[normalizeKey(p.Identifier.Value)]; ok {
			return ref, nil
		}
		return "account:" + p.Identifier.Value, nil
	}
	key := lookupKey(p.Identifier)
	if ref, ok := s.entries[key]; ok && key != "" {
		return ref, nil
	}
	return "", fmt.Errorf("directory: %s: %w", p.Identifier, creation.ErrNotDiscoverable)
}

func lookupKey(id room.Identifier) string {
	switch id.Kind {
	case room.IdentifierEmail:
		return identity.NormalizeEmail(id.Value)
	case room.IdentifierPhone:
		return identity.NormalizePhone(id.Value)
	}
	return strings.TrimSpace(id.Value)
}

func normalizeKey(k string) string {
	k = strings.TrimSpace(k)
	if strings.Contains(k, "@") {
		return identity.NormalizeEmail(k)
	}
	if looksLikePhone(k) {
		return identity.NormalizePhone(k)
	}
	return k
}

func looksLikePhone(k string) bool {
	digits := 0
	for _, r := range k {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case strings.ContainsRune("+-(). ", r):
		default:
			return false
		}
	}
	return digits > 0
}

// Chain tries resolvers in order. An identifier that one resolver does not
// know falls through to the next; any other error stops the chain.
type Chain []creation.Resolver

// Resolve implements creation.Resolver.
func (c Chain) Resolve(ctx context.Context, p room.ParticipantSpec) (string, error) {
	for _, r := range c {
		ref, err := r.Resolve(ctx, p)
		if err == nil {
			return ref, nil
		}
		if !errors.Is(err, creation.ErrNotDiscoverable) {
			return "", err
		}
	}
	return "", fmt.Errorf("directory: %s: %w", p.Identifier, creation.ErrNotDiscoverable)
}
