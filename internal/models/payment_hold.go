package models

import "time"

// PaymentHold is one authorisation in the payment ledger.
type PaymentHold struct {
	ID         string `gorm:"primaryKey;size:64"`
	RoomID     string `gorm:"size:64;not null;index"`
	Cents      int64  `gorm:"not null"`
	Status     string `gorm:"size:16;not null;default:authorized;index"` // authorized, captured, released
	CreatedAt  time.Time
	CapturedAt *time.Time
	ReleasedAt *time.Time
}
