package payment

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/zulandar/roundtable/internal/creation"
	"github.com/zulandar/roundtable/internal/db"
	"github.com/zulandar/roundtable/internal/room"
)

func testLedger(t *testing.T, limit int64) (*Ledger, *gorm.DB) {
	t.Helper()
	gdb, err := db.ConnectSQLite(":memory:")
	if err != nil {
		t.Fatalf("ConnectSQLite: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	n := 0
	l, err := NewLedger(LedgerOpts{
		DB:         gdb,
		LimitCents: limit,
		Now:        func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
		NewID: func() string {
			n++
			return fmt.Sprintf("hold-%d", n)
		},
	})
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	return l, gdb
}

func TestNewLedger_Validation(t *testing.T) {
	if _, err := NewLedger(LedgerOpts{}); err == nil {
		t.Error("expected error for missing db")
	}
	_, gdb := testLedger(t, 0)
	if _, err := NewLedger(LedgerOpts{DB: gdb, LimitCents: -1}); err == nil {
		t.Error("expected error for negative limit")
	}
}

func TestLedger_AuthorizeCapture(t *testing.T) {
	l, _ := testLedger(t, 0)
	ctx := context.Background()

	hold, err := l.Authorize(ctx, "room-1", 1000)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if hold.ID != "hold-1" || hold.Cents != 1000 {
		t.Errorf("hold = %+v", hold)
	}
	if st, _ := l.Status(ctx, hold.ID); st != StatusAuthorized {
		t.Errorf("status = %q, want authorized", st)
	}

	if err := l.Capture(ctx, hold); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if err := l.Capture(ctx, hold); err != nil {
		t.Errorf("second Capture: %v", err)
	}
	if st, _ := l.Status(ctx, hold.ID); st != StatusCaptured {
		t.Errorf("status = %q, want captured", st)
	}
	if err := l.Release(ctx, hold); !errors.Is(err, ErrCaptured) {
		t.Errorf("Release after capture err = %v, want ErrCaptured", err)
	}
}

func TestLedger_ZeroCentHold(t *testing.T) {
	l, _ := testLedger(t, 500)
	hold, err := l.Authorize(context.Background(), "room-1", 0)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if hold.Cents != 0 {
		t.Errorf("cents = %d", hold.Cents)
	}
}

func TestLedger_AuthorizeDeclined(t *testing.T) {
	l, _ := testLedger(t, 500)
	tests := []struct {
		name  string
		cents int64
	}{
		{"over limit", 1000},
		{"negative", -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Authorize(context.Background(), "room-1", tt.cents)
			if !errors.Is(err, creation.ErrPaymentDeclined) {
				t.Fatalf("err = %v, want ErrPaymentDeclined", err)
			}
			if creation.IsTransient(err) {
				t.Error("decline should be definitive")
			}
		})
	}
}

func TestLedger_ReleaseIsIdempotent(t *testing.T) {
	l, _ := testLedger(t, 0)
	ctx := context.Background()
	hold, _ := l.Authorize(ctx, "room-1", 1000)

	for i := 0; i < 3; i++ {
		if err := l.Release(ctx, hold); err != nil {
			t.Fatalf("Release #%d: %v", i+1, err)
		}
	}
	if st, _ := l.Status(ctx, hold.ID); st != StatusReleased {
		t.Errorf("status = %q, want released", st)
	}
	if err := l.Release(ctx, room.Hold{ID: "never-issued"}); err != nil {
		t.Errorf("release of unknown hold: %v", err)
	}
}

func TestLedger_CaptureRejected(t *testing.T) {
	l, _ := testLedger(t, 0)
	ctx := context.Background()

	if err := l.Capture(ctx, room.Hold{ID: "never-issued"}); !errors.Is(err, creation.ErrPaymentDeclined) {
		t.Errorf("unknown hold err = %v, want ErrPaymentDeclined", err)
	}

	hold, _ := l.Authorize(ctx, "room-1", 1000)
	l.Release(ctx, hold)
	if err := l.Capture(ctx, hold); !errors.Is(err, creation.ErrPaymentDeclined) {
		t.Errorf("released hold err = %v, want ErrPaymentDeclined", err)
	}
}

func TestLedger_Outstanding(t *testing.T) {
	l, _ := testLedger(t, 0)
	ctx := context.Background()
	a, _ := l.Authorize(ctx, "room-1", 1000)
	b, _ := l.Authorize(ctx, "room-1", 2500)
	l.Authorize(ctx, "room-2", 1000)
	l.Capture(ctx, a)

	got, err := l.Outstanding(ctx, "room-1")
	if err != nil {
		t.Fatalf("Outstanding: %v", err)
	}
	if len(got) != 1 || got[0] != b {
		t.Errorf("Outstanding = %+v, want [%+v]", got, b)
	}
}

func TestLedger_DBFailureIsTransient(t *testing.T) {
	l, gdb := testLedger(t, 0)
	sqlDB, _ := gdb.DB()
	sqlDB.Close()

	_, err := l.Authorize(context.Background(), "room-1", 1000)
	if err == nil {
		t.Fatal("expected error")
	}
	if !creation.IsTransient(err) {
		t.Errorf("err = %v, want transient", err)
	}
}
