// Package store persists rooms in the single-record embedded-JSON layout
// and keeps the per-room message log.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/zulandar/roundtable/internal/merge"
	"github.com/zulandar/roundtable/internal/models"
	"github.com/zulandar/roundtable/internal/room"
)

// Rooms is the GORM-backed sync transport. Writes are guarded by the
// record's version column: a push whose version no longer matches is
// rejected with merge.ErrStaleVersion.
type Rooms struct {
	db *gorm.DB
}

// NewRooms creates a Rooms store.
func NewRooms(db *gorm.DB) (*Rooms, error) {
	if db == nil {
		return nil, fmt.Errorf("store: rooms: db is required")
	}
	return &Rooms{db: db}, nil
}

// Fetch loads one room.
func (r *Rooms) Fetch(ctx context.Context, roomID string) (room.Snapshot, error) {
	var rec models.Room
	err := r.db.WithContext(ctx).Where("id = ?", roomID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return room.Snapshot{}, fmt.Errorf("store: room %s: %w", roomID, merge.ErrNotFound)
	}
	if err != nil {
		return room.Snapshot{}, fmt.Errorf("store: fetch room %s: %w", roomID, err)
	}
	return Decode(rec)
}

// Push writes s. Version 0 creates the record; otherwise the stored version
// must equal s.Version. The stored copy is returned with its new version.
func (r *Rooms) Push(ctx context.Context, s room.Snapshot) (room.Snapshot, error) {
	rec, err := Encode(s)
	if err != nil {
		return room.Snapshot{}, err
	}
	db := r.db.WithContext(ctx)

	if s.Version == 0 {
		rec.Version = 1
		if err := db.Create(&rec).Error; err != nil {
			if r.exists(ctx, rec.ID) {
				return room.Snapshot{}, fmt.Errorf("store: create room %s: %w", rec.ID, merge.ErrStaleVersion)
			}
			return room.Snapshot{}, fmt.Errorf("store: create room %s: %w", rec.ID, err)
		}
		out := s.Clone()
		out.Version = 1
		return out, nil
	}

	res := db.Model(&models.Room{}).
		Where("id = ? AND version = ?", rec.ID, s.Version).
		Updates(map[string]interface{}{
			"version":      s.Version + 1,
			"state":        rec.State,
			"state_detail": rec.StateDetail,
			"turn_index":   rec.TurnIndex,
			"raised_hands": rec.RaisedHands,
			"current_need": rec.CurrentNeed,
			"participants": rec.Participants,
			"messages":     rec.Messages,
			"hold_id":      rec.HoldID,
			"hold_cents":   rec.HoldCents,
			"modified_at":  rec.ModifiedAt,
		})
	if res.Error != nil {
		return room.Snapshot{}, fmt.Errorf("store: update room %s: %w", rec.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		if !r.exists(ctx, rec.ID) {
			return room.Snapshot{}, fmt.Errorf("store: update room %s: %w", rec.ID, merge.ErrNotFound)
		}
		return room.Snapshot{}, fmt.Errorf("store: update room %s at version %d: %w", rec.ID, s.Version, merge.ErrStaleVersion)
	}
	out := s.Clone()
	out.Version = s.Version + 1
	return out, nil
}

func (r *Rooms) exists(ctx context.Context, roomID string) bool {
	var n int64
	r.db.WithContext(ctx).Model(&models.Room{}).Where("id = ?", roomID).Count(&n)
	return n > 0
}

// Query filters List. Zero fields do not filter.
type Query struct {
	States         []room.StateKind
	ModifiedBefore time.Time
	ModifiedAfter  time.Time
}

// List returns the rooms matching q, oldest modification first.
func (r *Rooms) List(ctx context.Context, q Query) ([]room.Snapshot, error) {
	db := r.db.WithContext(ctx).Model(&models.Room{})
	if len(q.States) > 0 {
		states := make([]string, len(q.States))
		for i, s := range q.States {
			states[i] = string(s)
		}
		db = db.Where("state IN ?", states)
	}
	if !q.ModifiedBefore.IsZero() {
		db = db.Where("modified_at < ?", q.ModifiedBefore)
	}
	if !q.ModifiedAfter.IsZero() {
		db = db.Where("modified_at > ?", q.ModifiedAfter)
	}
	var recs []models.Room
	if err := db.Order("modified_at, id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("store: list rooms: %w", err)
	}
	out := make([]room.Snapshot, 0, len(recs))
	for _, rec := range recs {
		s, err := Decode(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// IDs returns the id of every stored room.
func (r *Rooms) IDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&models.Room{}).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("store: list room ids: %w", err)
	}
	return ids, nil
}

// Delete removes a room and its message log.
func (r *Rooms) Delete(ctx context.Context, roomID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", roomID).Delete(&models.RoomMessage{}).Error; err != nil {
			return fmt.Errorf("store: delete messages of room %s: %w", roomID, err)
		}
		res := tx.Where("id = ?", roomID).Delete(&models.Room{})
		if res.Error != nil {
			return fmt.Errorf("store: delete room %s: %w", roomID, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("store: delete room %s: %w", roomID, merge.ErrNotFound)
		}
		return nil
	})
}

// Encode flattens a snapshot into its record. The turn lives in the
// turn_index, raised_hands and current_need columns, not in state_detail.
func Encode(s room.Snapshot) (models.Room, error) {
	id := s.ID()
	spec, err := json.Marshal(s.Lifecycle.Spec)
	if err != nil {
		return models.Room{}, fmt.Errorf("store: encode spec of room %s: %w", id, err)
	}
	state := s.Lifecycle.State
	if state == nil {
		state = room.Draft{}
	}
	detail := room.RecordOf(state)
	turn := detail.Turn
	detail.Turn = nil
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return models.Room{}, fmt.Errorf("store: encode state of room %s: %w", id, err)
	}

	rec := models.Room{
		ID:           id,
		Version:      s.Version,
		State:        string(state.Kind()),
		OriginatorID: string(s.Lifecycle.Spec.OriginatorID),
		Tier:         int(s.Lifecycle.Spec.Tier),
		IsFirstRoom:  s.Lifecycle.Spec.IsFirstRoom,
		Spec:         string(spec),
		StateDetail:  string(detailJSON),
		RaisedHands:  "[]",
		ModifiedAt:   s.Lifecycle.ModifiedAt,
		CreatedAt:    s.Lifecycle.Spec.CreatedAt,
	}
	if turn != nil {
		rec.TurnIndex = int64(turn.CurrentTurnIndex)
		hands := turn.RaisedHands
		if hands == nil {
			hands = room.IDSet{}
		}
		handsJSON, err := json.Marshal(hands)
		if err != nil {
			return models.Room{}, fmt.Errorf("store: encode raised hands of room %s: %w", id, err)
		}
		rec.RaisedHands = string(handsJSON)
		if turn.CurrentNeed != nil {
			needJSON, err := json.Marshal(turn.CurrentNeed)
			if err != nil {
				return models.Room{}, fmt.Errorf("store: encode need of room %s: %w", id, err)
			}
			rec.CurrentNeed = string(needJSON)
		}
	}

	participants := s.Participants
	if participants == nil {
		participants = []room.EmbeddedParticipant{}
	}
	pJSON, err := json.Marshal(participants)
	if err != nil {
		return models.Room{}, fmt.Errorf("store: encode participants of room %s: %w", id, err)
	}
	rec.Participants = string(pJSON)

	messages := s.Messages
	if messages == nil {
		messages = []room.Message{}
	}
	mJSON, err := json.Marshal(messages)
	if err != nil {
		return models.Room{}, fmt.Errorf("store: encode messages of room %s: %w", id, err)
	}
	rec.Messages = string(mJSON)

	if s.Hold != nil {
		rec.HoldID = s.Hold.ID
		rec.HoldCents = s.Hold.Cents
	}
	return rec, nil
}

// Decode rebuilds a snapshot from its record.
func Decode(rec models.Room) (room.Snapshot, error) {
	var spec room.RoomSpec
	if err := json.Unmarshal([]byte(rec.Spec), &spec); err != nil {
		return room.Snapshot{}, fmt.Errorf("store: decode spec of room %s: %w", rec.ID, err)
	}
	var detail room.StateRecord
	if rec.StateDetail != "" {
		if err := json.Unmarshal([]byte(rec.StateDetail), &detail); err != nil {
			return room.Snapshot{}, fmt.Errorf("store: decode state of room %s: %w", rec.ID, err)
		}
	} else {
		detail.Kind = room.StateKind(rec.State)
	}
	if detail.Kind == room.StateActive || detail.Kind == room.StateLocked {
		if rec.TurnIndex < 0 {
			return room.Snapshot{}, fmt.Errorf("store: room %s has negative turn index %d", rec.ID, rec.TurnIndex)
		}
		var hands []room.ParticipantID
		if rec.RaisedHands != "" {
			if err := json.Unmarshal([]byte(rec.RaisedHands), &hands); err != nil {
				return room.Snapshot{}, fmt.Errorf("store: decode raised hands of room %s: %w", rec.ID, err)
			}
		}
		turn := room.TurnState{
			CurrentTurnIndex: uint64(rec.TurnIndex),
			RaisedHands:      room.NewIDSet(hands...),
		}
		if rec.CurrentNeed != "" {
			var need room.Need
			if err := json.Unmarshal([]byte(rec.CurrentNeed), &need); err != nil {
				return room.Snapshot{}, fmt.Errorf("store: decode need of room %s: %w", rec.ID, err)
			}
			turn.CurrentNeed = &need
		}
		detail.Turn = &turn
	}
	state, err := detail.State()
	if err != nil {
		return room.Snapshot{}, fmt.Errorf("store: room %s: %w", rec.ID, err)
	}

	s := room.Snapshot{
		Lifecycle: room.RoomLifecycle{Spec: spec, State: state, ModifiedAt: rec.ModifiedAt},
		Version:   rec.Version,
	}
	if err := json.Unmarshal([]byte(rec.Participants), &s.Participants); err != nil {
		return room.Snapshot{}, fmt.Errorf("store: decode participants of room %s: %w", rec.ID, err)
	}
	s.Messages = []room.Message{}
	if rec.Messages != "" {
		if err := json.Unmarshal([]byte(rec.Messages), &s.Messages); err != nil {
			return room.Snapshot{}, fmt.Errorf("store: decode messages of room %s: %w", rec.ID, err)
		}
	}
	if rec.HoldID != "" {
		s.Hold = &room.Hold{ID: rec.HoldID, Cents: rec.HoldCents}
	}
	return s, nil
}
