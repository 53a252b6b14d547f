package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/roundtable/internal/models"
	"github.com/zulandar/roundtable/internal/room"
)

func newMessages(t *testing.T) *Messages {
	t.Helper()
	ms, err := NewMessages(testDB(t))
	if err != nil {
		t.Fatalf("NewMessages: %v", err)
	}
	return ms
}

func msg(id string, at time.Duration) room.Message {
	return room.Message{ID: id, RoomID: "room-1", AuthorID: "jax", AuthorName: "Jax", Text: "text " + id, CreatedAt: t0.Add(at)}
}

func TestMessages_SaveFetchOrdered(t *testing.T) {
	ms := newMessages(t)
	ctx := context.Background()
	for _, m := range []room.Message{msg("b", 2*time.Second), msg("a", time.Second), msg("c", 3*time.Second)} {
		if err := ms.Save(ctx, m); err != nil {
			t.Fatalf("Save %s: %v", m.ID, err)
		}
	}
	other := msg("x", 0)
	other.RoomID = "room-2"
	ms.Save(ctx, other)

	got, err := ms.Fetch(ctx, "room-1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 3 || got[0].ID != "a" || got[1].ID != "b" || got[2].ID != "c" {
		t.Errorf("Fetch = %+v", got)
	}
}

func TestMessages_SaveIsIdempotent(t *testing.T) {
	ms := newMessages(t)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []string
	cancel := ms.Observe("room-1", func(m room.Message) {
		mu.Lock()
		seen = append(seen, m.ID)
		mu.Unlock()
	})
	defer cancel()

	for i := 0; i < 3; i++ {
		if err := ms.Save(ctx, msg("a", 0)); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	got, _ := ms.Fetch(ctx, "room-1")
	if len(got) != 1 {
		t.Errorf("stored %d copies, want 1", len(got))
	}
	if len(seen) != 1 {
		t.Errorf("observer saw %v, want one notification", seen)
	}
}

func TestMessages_ObserveCancel(t *testing.T) {
	ms := newMessages(t)
	ctx := context.Background()

	calls := 0
	cancel := ms.Observe("room-1", func(room.Message) { calls++ })
	ms.Save(ctx, msg("a", 0))
	cancel()
	cancel()
	ms.Save(ctx, msg("b", time.Second))

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(ms.observers) != 0 {
		t.Errorf("observers left registered: %d", len(ms.observers))
	}
}

func TestMessages_ObserverPanicDoesNotBreakSave(t *testing.T) {
	ms := newMessages(t)
	defer ms.Observe("room-1", func(room.Message) { panic("boom") })()
	if err := ms.Save(context.Background(), msg("a", 0)); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func TestMessages_Import(t *testing.T) {
	ms := newMessages(t)
	ctx := context.Background()
	ms.Save(ctx, msg("a", 0))

	s := draft(t, "room-1")
	s.Messages = []room.Message{msg("a", 0), msg("b", time.Second)}
	if err := ms.Import(ctx, s); err != nil {
		t.Fatalf("Import: %v", err)
	}
	got, _ := ms.Fetch(ctx, "room-1")
	if len(got) != 2 {
		t.Errorf("messages = %d, want 2", len(got))
	}
}

func TestAgentLogs(t *testing.T) {
	logs, err := NewAgentLogs(testDB(t))
	if err != nil {
		t.Fatalf("NewAgentLogs: %v", err)
	}
	ctx := context.Background()
	logs.Record(ctx, models.AgentLog{RoomID: "room-1", Purpose: "respond", Direction: "in", Content: "Hello"})
	logs.Record(ctx, models.AgentLog{RoomID: "room-1", Purpose: "respond", Direction: "out", Content: "Hi", LatencyMs: 40})
	logs.Record(ctx, models.AgentLog{RoomID: "room-2", Direction: "in"})

	got, err := logs.ForRoom(ctx, "room-1")
	if err != nil {
		t.Fatalf("ForRoom: %v", err)
	}
	if len(got) != 2 || got[0].Direction != "in" || got[1].LatencyMs != 40 {
		t.Errorf("ForRoom = %+v", got)
	}
}
