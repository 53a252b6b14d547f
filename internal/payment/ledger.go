// Package payment keeps a local ledger of payment holds. It authorises,
// captures and releases holds as rows in the payment_holds table.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zulandar/roundtable/internal/creation"
	"github.com/zulandar/roundtable/internal/models"
	"github.com/zulandar/roundtable/internal/room"
)

// Hold statuses.
const (
	StatusAuthorized = "authorized"
	StatusCaptured   = "captured"
	StatusReleased   = "released"
)

// ErrCaptured is returned when releasing a hold that was already captured.
var ErrCaptured = errors.New("payment: hold already captured")

// LedgerOpts holds parameters for creating a Ledger.
type LedgerOpts struct {
	DB *gorm.DB
	// LimitCents declines authorisations above it. Zero means no limit.
	LimitCents int64
	Now        func() time.Time
	NewID      func() string
}

// Ledger implements creation.Payments on top of GORM.
type Ledger struct {
	db    *gorm.DB
	limit int64
	now   func() time.Time
	newID func() string
}

// NewLedger creates a Ledger.
func NewLedger(opts LedgerOpts) (*Ledger, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("payment: db is required")
	}
	if opts.LimitCents < 0 {
		return nil, fmt.Errorf("payment: limit must not be negative")
	}
	l := &Ledger{db: opts.DB, limit: opts.LimitCents, now: opts.Now, newID: opts.NewID}
	if l.now == nil {
		l.now = time.Now
	}
	if l.newID == nil {
		l.newID = uuid.NewString
	}
	return l, nil
}

// Authorize records a new hold of cents for roomID.
func (l *Ledger) Authorize(ctx context.Context, roomID string, cents int64) (room.Hold, error) {
	if cents < 0 {
		return room.Hold{}, fmt.Errorf("payment: authorize %d cents for room %s: %w", cents, roomID, creation.ErrPaymentDeclined)
	}
	if l.limit > 0 && cents > l.limit {
		return room.Hold{}, fmt.Errorf("payment: authorize %d cents for room %s over limit %d: %w", cents, roomID, l.limit, creation.ErrPaymentDeclined)
	}
	row := models.PaymentHold{
		ID:        l.newID(),
		RoomID:    roomID,
		Cents:     cents,
		Status:    StatusAuthorized,
		CreatedAt: l.now(),
	}
	if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
		return room.Hold{}, &creation.NetworkError{Detail: "payment: authorize for room " + roomID, Err: err}
	}
	log.Printf("payment: authorized hold %s [room=%s cents=%d]", row.ID, roomID, cents)
	return room.Hold{ID: row.ID, Cents: cents}, nil
}

// Capture turns an authorised hold into a charge. Capturing a captured hold
// again is a no-op; a released or unknown hold is declined.
func (l *Ledger) Capture(ctx context.Context, hold room.Hold) error {
	return l.settle(ctx, hold, StatusCaptured)
}

// Release lets go of a hold. Releasing a released or unknown hold succeeds;
// a captured hold returns ErrCaptured.
func (l *Ledger) Release(ctx context.Context, hold room.Hold) error {
	return l.settle(ctx, hold, StatusReleased)
}

func (l *Ledger) settle(ctx context.Context, hold room.Hold, to string) error {
	verb := "capture"
	column := "captured_at"
	if to == StatusReleased {
		verb = "release"
		column = "released_at"
	}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.PaymentHold
		res := tx.Where("id = ?", hold.ID).First(&row)
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			if to == StatusReleased {
				log.Printf("payment: release of unknown hold %s ignored", hold.ID)
				return nil
			}
			return fmt.Errorf("unknown hold: %w", creation.ErrPaymentDeclined)
		}
		if res.Error != nil {
			return &creation.NetworkError{Detail: "payment: load hold " + hold.ID, Err: res.Error}
		}

		switch {
		case row.Status == to:
			return nil
		case row.Status == StatusCaptured:
			return ErrCaptured
		case row.Status == StatusReleased:
			return fmt.Errorf("hold released: %w", creation.ErrPaymentDeclined)
		}

		upd := tx.Model(&models.PaymentHold{}).
			Where("id = ? AND status = ?", hold.ID, StatusAuthorized).
			Updates(map[string]interface{}{"status": to, column: l.now()})
		if upd.Error != nil {
			return &creation.NetworkError{Detail: "payment: update hold " + hold.ID, Err: upd.Error}
		}
		if upd.RowsAffected == 0 {
			return &creation.NetworkError{Detail: "payment: hold " + hold.ID + " changed concurrently"}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("payment: %s hold %s: %w", verb, hold.ID, err)
	}
	return nil
}

// Status returns the ledger status of a hold.
func (l *Ledger) Status(ctx context.Context, holdID string) (string, error) {
	var row models.PaymentHold
	err := l.db.WithContext(ctx).Where("id = ?", holdID).First(&row).Error
	if err != nil {
		return "", fmt.Errorf("payment: status of hold %s: %w", holdID, err)
	}
	return row.Status, nil
}

// Outstanding returns the holds of roomID that are still authorised.
func (l *Ledger) Outstanding(ctx context.Context, roomID string) ([]room.Hold, error) {
	var rows []models.PaymentHold
	err := l.db.WithContext(ctx).
		Where("room_id = ? AND status = ?", roomID, StatusAuthorized).
		Order("created_at").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("payment: outstanding holds of room %s: %w", roomID, err)
	}
	out := make([]room.Hold, len(rows))
	for i, r := range rows {
		out[i] = room.Hold{ID: r.ID, Cents: r.Cents}
	}
	return out, nil
}
