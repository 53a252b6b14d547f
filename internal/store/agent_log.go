package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/zulandar/roundtable/internal/models"
)

// AgentLogs records agent I/O.
type AgentLogs struct {
	db *gorm.DB
}

// NewAgentLogs creates an AgentLogs recorder.
func NewAgentLogs(db *gorm.DB) (*AgentLogs, error) {
	if db == nil {
		return nil, fmt.Errorf("store: agent logs: db is required")
	}
	return &AgentLogs{db: db}, nil
}

// Record writes one log entry.
func (a *AgentLogs) Record(ctx context.Context, entry models.AgentLog) error {
	if err := a.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("store: record agent log for room %s: %w", entry.RoomID, err)
	}
	return nil
}

// ForRoom returns a room's agent log, oldest first.
func (a *AgentLogs) ForRoom(ctx context.Context, roomID string) ([]models.AgentLog, error) {
	var out []models.AgentLog
	if err := a.db.WithContext(ctx).Where("room_id = ?", roomID).Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("store: agent logs for room %s: %w", roomID, err)
	}
	return out, nil
}
