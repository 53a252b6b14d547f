package store

import (
	"context"
	"fmt"
	"log"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zulandar/roundtable/internal/models"
	"github.com/zulandar/roundtable/internal/room"
)

// Messages is the per-room message log. Saves are idempotent on message id
// and fan out to in-process observers.
type Messages struct {
	db *gorm.DB

	mu        sync.RWMutex
	nextID    int
	observers map[string]map[int]func(room.Message)
}

// NewMessages creates a Messages log.
func NewMessages(db *gorm.DB) (*Messages, error) {
	if db == nil {
		return nil, fmt.Errorf("store: messages: db is required")
	}
	return &Messages{db: db, observers: make(map[string]map[int]func(room.Message))}, nil
}

// Save records m. A message already in the log is not stored or announced
// again.
func (ms *Messages) Save(ctx context.Context, m room.Message) error {
	row := models.RoomMessage{
		ID:          m.ID,
		RoomID:      m.RoomID,
		AuthorID:    string(m.AuthorID),
		AuthorName:  m.AuthorName,
		Text:        m.Text,
		IsAgent:     m.IsAgent,
		IsNarration: m.IsNarration,
		CreatedAt:   m.CreatedAt,
	}
	res := ms.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return fmt.Errorf("store: save message %s: %w", m.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}
	ms.notify(m)
	return nil
}

// Fetch returns a room's messages in transcript order.
func (ms *Messages) Fetch(ctx context.Context, roomID string) ([]room.Message, error) {
	var rows []models.RoomMessage
	if err := ms.db.WithContext(ctx).Where("room_id = ?", roomID).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: fetch messages of room %s: %w", roomID, err)
	}
	out := make([]room.Message, len(rows))
	for i, r := range rows {
		out[i] = room.Message{
			ID:          r.ID,
			RoomID:      r.RoomID,
			AuthorID:    room.ParticipantID(r.AuthorID),
			AuthorName:  r.AuthorName,
			Text:        r.Text,
			CreatedAt:   r.CreatedAt,
			IsAgent:     r.IsAgent,
			IsNarration: r.IsNarration,
		}
	}
	return out, nil
}

// Observe registers onChange for new messages in roomID. The returned func
// unregisters it.
func (ms *Messages) Observe(roomID string, onChange func(room.Message)) func() {
	ms.mu.Lock()
	id := ms.nextID
	ms.nextID++
	if ms.observers[roomID] == nil {
		ms.observers[roomID] = make(map[int]func(room.Message))
	}
	ms.observers[roomID][id] = onChange
	ms.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			ms.mu.Lock()
			delete(ms.observers[roomID], id)
			if len(ms.observers[roomID]) == 0 {
				delete(ms.observers, roomID)
			}
			ms.mu.Unlock()
		})
	}
}

// Import saves every message of a snapshot that the log does not have yet,
// for messages that arrived with a remote copy of the room.
func (ms *Messages) Import(ctx context.Context, s room.Snapshot) error {
	for _, m := range s.Messages {
		if err := ms.Save(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (ms *Messages) notify(m room.Message) {
	ms.mu.RLock()
	fns := make([]func(room.Message), 0, len(ms.observers[m.RoomID]))
	for _, fn := range ms.observers[m.RoomID] {
		fns = append(fns, fn)
	}
	ms.mu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("store: message observer for room %s panicked: %v", m.RoomID, r)
				}
			}()
			fn(m)
		}()
	}
}
