package models

import "time"

// RoomMessage is one entry of a room's message log. The log mirrors the
// messages embedded in Room and feeds observers.
type RoomMessage struct {
	ID          string    `gorm:"primaryKey;size:64"`
	RoomID      string    `gorm:"size:64;not null;index:idx_room_created"`
	AuthorID    string    `gorm:"size:64"`
	AuthorName  string    `gorm:"size:128"`
	Text        string    `gorm:"type:mediumtext;not null"`
	IsAgent     bool      `gorm:"default:false"`
	IsNarration bool      `gorm:"default:false"`
	CreatedAt   time.Time `gorm:"index:idx_room_created"`
}
