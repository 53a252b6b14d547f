//go:build integration

package db

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"testing"
	"time"

	"github.com/zulandar/roundtable/internal/config"
	"github.com/zulandar/roundtable/internal/merge"
	"github.com/zulandar/roundtable/internal/room"
	"github.com/zulandar/roundtable/internal/store"
)

// testDoltServer manages a Dolt SQL server lifecycle for integration tests.
type testDoltServer struct {
	Port int
	Dir  string
	cmd  *exec.Cmd
}

// startDoltServer initializes a Dolt repo in a temp directory and starts
// dolt sql-server on a free port. The server is automatically stopped
// when the test completes.
func startDoltServer(t *testing.T) *testDoltServer {
	t.Helper()

	dir := t.TempDir()

	// Configure dolt identity for the temp repo
	for _, kv := range [][2]string{
		{"user.name", "Test Runner"},
		{"user.email", "test@roundtable.dev"},
	} {
		cfg := exec.Command("dolt", "config", "--global", "--add", kv[0], kv[1])
		cfg.Dir = dir
		cfg.CombinedOutput() // ignore errors if already set
	}

	// Initialize dolt repo
	init := exec.Command("dolt", "init")
	init.Dir = dir
	if out, err := init.CombinedOutput(); err != nil {
		t.Fatalf("dolt init: %s\n%s", err, out)
	}

	port := freePort(t)

	cmd := exec.Command("dolt", "sql-server",
		"--port", fmt.Sprintf("%d", port),
		"--host", "127.0.0.1",
	)
	cmd.Dir = dir

	if err := cmd.Start(); err != nil {
		t.Fatalf("dolt sql-server start: %v", err)
	}

	srv := &testDoltServer{Port: port, Dir: dir, cmd: cmd}

	t.Cleanup(func() {
		srv.cmd.Process.Kill()
		srv.cmd.Wait()
	})

	waitForServer(t, port)
	return srv
}

// freePort finds an available TCP port.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

// waitForServer polls until the Dolt server accepts TCP connections.
func waitForServer(t *testing.T, port int) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("dolt sql-server not ready on port %d after 10s", port)
}

func TestIntegration_ConnectAdmin(t *testing.T) {
	srv := startDoltServer(t)
	db, err := ConnectAdmin("127.0.0.1", srv.Port)
	if err != nil {
		t.Fatalf("ConnectAdmin: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql.DB: %v", err)
	}
	if err := sqlDB.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestIntegration_AutoMigrate(t *testing.T) {
	srv := startDoltServer(t)
	adminDB, err := ConnectAdmin("127.0.0.1", srv.Port)
	if err != nil {
		t.Fatalf("ConnectAdmin: %v", err)
	}
	if err := CreateDatabase(adminDB, "roundtable_migrate"); err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}
	db, err := Connect("127.0.0.1", srv.Port, "roundtable_migrate")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	var tables []string
	if err := db.Raw("SHOW TABLES").Scan(&tables).Error; err != nil {
		t.Fatalf("SHOW TABLES: %v", err)
	}
	tableSet := make(map[string]bool)
	for _, tbl := range tables {
		tableSet[tbl] = true
	}
	for _, expected := range []string{"rooms", "room_messages", "payment_holds", "agent_logs"} {
		if !tableSet[expected] {
			t.Errorf("expected table %q not found; got tables: %v", expected, tables)
		}
	}

	type columnInfo struct {
		Field string `gorm:"column:Field"`
	}
	var cols []columnInfo
	if err := db.Raw("DESCRIBE rooms").Scan(&cols).Error; err != nil {
		t.Fatalf("DESCRIBE rooms: %v", err)
	}
	colSet := make(map[string]bool)
	for _, c := range cols {
		colSet[c.Field] = true
	}
	for _, col := range []string{"id", "version", "state", "turn_index", "raised_hands", "participants", "messages"} {
		if !colSet[col] {
			t.Errorf("rooms table missing column %q", col)
		}
	}
}

func TestIntegration_SharedRoomVersioning(t *testing.T) {
	srv := startDoltServer(t)
	gdb, err := Prepare(config.DatabaseConfig{
		Driver: "mysql",
		Host:   "127.0.0.1",
		Port:   srv.Port,
		Name:   "roundtable_shared",
	})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	rooms, err := store.NewRooms(gdb)
	if err != nil {
		t.Fatalf("NewRooms: %v", err)
	}

	s, err := room.NewSnapshot(room.RoomSpec{
		ID:           "room-1",
		OriginatorID: "jax",
		Participants: []room.ParticipantSpec{
			{ID: "jax", Identifier: room.LocalAccount("jax"), Nickname: "Jax"},
			{ID: "agent", Identifier: room.Agent(), Nickname: "Sage"},
		},
		Tier:      room.TierBasic,
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("NewSnapshot: %v", err)
	}

	ctx := context.Background()
	stored, err := rooms.Push(ctx, s)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if _, err := rooms.Push(ctx, stored); err != nil {
		t.Fatalf("second Push: %v", err)
	}
	if _, err := rooms.Push(ctx, stored); !errors.Is(err, merge.ErrStaleVersion) {
		t.Errorf("stale push err = %v, want ErrStaleVersion", err)
	}
}
