package models

import "time"

// Room is the single replicated record of a room. Participants and messages
// are embedded as JSON; the turn fields are plain columns so every device
// reads and writes them the same way.
type Room struct {
	ID           string    `gorm:"primaryKey;size:64"`
	Version      int64     `gorm:"not null;default:1"`
	State        string    `gorm:"size:32;not null;index"`
	OriginatorID string    `gorm:"size:64;not null"`
	Tier         int       `gorm:"not null"`
	IsFirstRoom  bool      `gorm:"default:false"`
	Spec         string    `gorm:"type:text;not null"` // JSON room.RoomSpec
	StateDetail  string    `gorm:"type:text"`          // JSON room.StateRecord without the turn
	TurnIndex    int64     `gorm:"not null;default:0"` // never stored modulo the participant count
	RaisedHands  string    `gorm:"type:text"`          // JSON array of participant ids
	CurrentNeed  string    `gorm:"type:text"`          // JSON room.Need, empty when none
	Participants string    `gorm:"type:text;not null"` // JSON array in seating order
	Messages     string    `gorm:"type:mediumtext"`    // JSON array keyed by message id
	HoldID       string    `gorm:"size:64"`
	HoldCents    int64     `gorm:"default:0"`
	ModifiedAt   time.Time `gorm:"index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
