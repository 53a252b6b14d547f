package models

import "time"

// AgentLog captures agent I/O for a room for debugging.
type AgentLog struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	RoomID    string `gorm:"size:64;index"`
	Purpose   string `gorm:"size:16"` // respond, evaluate
	Direction string `gorm:"size:4"`  // in, out
	Content   string `gorm:"type:mediumtext"`
	Model     string `gorm:"size:64"`
	LatencyMs int
	CreatedAt time.Time
}
