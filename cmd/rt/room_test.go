package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/roundtable/internal/room"
)

func TestParseSeat(t *testing.T) {
	tests := []struct {
		in      string
		want    room.Identifier
		nick    string
		wantErr bool
	}{
		{in: "email:ren@example.com=Ren", want: room.Email("ren@example.com"), nick: "Ren"},
		{in: "phone:+1 555 010 0002= Otto ", want: room.Phone("+1 555 010 0002"), nick: "Otto"},
		{in: "ACCOUNT:mira=Mira", want: room.LocalAccount("mira"), nick: "Mira"},
		{in: "email:ren@example.com", wantErr: true},
		{in: "ren@example.com=Ren", wantErr: true},
		{in: "fax:123=Old", wantErr: true},
		{in: "email:=Ren", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := parseSeat(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", p)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseSeat: %v", err)
			}
			if p.Identifier != tt.want || p.Nickname != tt.nick {
				t.Errorf("got %+v", p)
			}
		})
	}
}

func TestBuildSpec(t *testing.T) {
	spec, err := buildSpec("jax", "Jax", "Sage", room.TierBasic, true, []string{
		"email:ren@example.com=Ren",
		"phone:5550100=Otto",
	})
	if err != nil {
		t.Fatalf("buildSpec: %v", err)
	}
	ids := make([]room.ParticipantID, len(spec.Participants))
	for i, p := range spec.Participants {
		ids[i] = p.ID
	}
	want := []room.ParticipantID{"host", "agent", "guest-1", "guest-2"}
	if fmt.Sprint(ids) != fmt.Sprint(want) {
		t.Errorf("seats = %v, want %v", ids, want)
	}
	if spec.OriginatorID != "host" || !spec.IsFirstRoom || spec.Tier != room.TierBasic {
		t.Errorf("spec = %+v", spec)
	}
	if !spec.Participants[1].IsAgent() {
		t.Error("second seat should be the agent")
	}

	if _, err := buildSpec("jax", "Jax", "Sage", room.TierBasic, false, []string{"bogus"}); err == nil {
		t.Error("expected error for malformed seat")
	}
}

func activeSnapshot(t *testing.T) room.Snapshot {
	t.Helper()
	spec, err := buildSpec("jax", "Jax", "Sage", room.TierStandard, false, []string{"email:ren@example.com=Ren"})
	if err != nil {
		t.Fatalf("buildSpec: %v", err)
	}
	spec.ID = "room-1"
	spec.CreatedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, err := room.NewSnapshot(spec)
	if err != nil {
		t.Fatalf("NewSnapshot: %v", err)
	}
	turn := room.InitialTurn()
	turn.CurrentTurnIndex = 2
	turn.RaisedHands = room.NewIDSet("host")
	s.Lifecycle.State = room.Active{Turn: turn}
	s.Messages = []room.Message{
		{ID: "m1", AuthorID: "host", AuthorName: "Jax", Text: "Hello"},
		{ID: "m2", AuthorName: "Narrator", Text: "Rain starts.", IsNarration: true},
	}
	return s
}

func TestDescribeState(t *testing.T) {
	s := activeSnapshot(t)
	if got := describeState(s); got != "active (turn 2, Ren to speak)" {
		t.Errorf("active = %q", got)
	}

	s.Lifecycle.State = room.PendingHumans{Signaled: room.NewIDSet("host")}
	if got := describeState(s); got != "pending_humans (1/2 here)" {
		t.Errorf("pending = %q", got)
	}

	s.Lifecycle.State = room.Defunct{Reason: room.DefunctReason{Kind: room.DefunctParticipantLeft, ParticipantID: "guest-1"}}
	if got := describeState(s); got != "defunct: participant_left(guest-1)" {
		t.Errorf("defunct = %q", got)
	}
}

func TestPrintRoom(t *testing.T) {
	var buf bytes.Buffer
	printRoom(&buf, activeSnapshot(t), "host")
	out := buf.String()
	for _, want := range []string{
		"Room:   room-1",
		"Ren to speak",
		"hand raised, you",
		"Jax: Hello",
		"* Rain starts.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("  one\ntwo", 10); got != "one" {
		t.Errorf("got %q", got)
	}
	if got := firstLine("abcdefghijkl", 8); got != "abcde..." {
		t.Errorf("got %q", got)
	}
}

func TestRoomCreateCmd_RequiresName(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"room", "create", "--config", "/nonexistent/rt.yaml"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error without --name")
	}
}

// writeConfig writes an rt.yaml backed by a SQLite file and a mock agent
// that accepts every invitation and answers every turn with "Agreed.".
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	agent := filepath.Join(dir, "claude")
	script := "#!/bin/sh\nif grep -q 'ACCEPT' ; then echo ACCEPT; else echo Agreed.; fi\n"
	if err := os.WriteFile(agent, []byte(script), 0755); err != nil {
		t.Fatalf("write agent: %v", err)
	}
	cfg := fmt.Sprintf(`device:
  credential: device-jax
  account: jax
database:
  driver: sqlite
  path: %s
agent:
  binary: %s
  work_dir: %s
  timeout_sec: 10
directory:
  static:
    ren@example.com: user:ren
`, filepath.Join(dir, "rt.db"), agent, dir)
	path := filepath.Join(dir, "rt.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRoomLifecycle_EndToEnd(t *testing.T) {
	cfg := writeConfig(t)

	if out, err := run(t, "db", "init", "-c", cfg); err != nil {
		t.Fatalf("db init: %v\n%s", err, out)
	}

	out, err := run(t, "room", "create", "-c", cfg, "--name", "Jax", "--with", "email:ren@example.com=Ren")
	if err != nil {
		t.Fatalf("room create: %v\n%s", err, out)
	}
	if !strings.Contains(out, "pending_humans (0/2 here)") {
		t.Fatalf("create output:\n%s", out)
	}
	var roomID string
	fmt.Sscanf(out, "Created room %s", &roomID)
	if roomID == "" {
		t.Fatalf("no room id in:\n%s", out)
	}

	if out, err := run(t, "room", "signal", "-c", cfg, roomID); err != nil {
		t.Fatalf("signal host: %v\n%s", err, out)
	}
	out, err = run(t, "room", "signal", "-c", cfg, roomID, "guest-1")
	if err != nil {
		t.Fatalf("signal guest: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Jax to speak") {
		t.Fatalf("room did not activate:\n%s", out)
	}

	out, err = run(t, "room", "say", "-c", cfg, roomID, "Shall we begin?")
	if err != nil {
		t.Fatalf("say: %v\n%s", err, out)
	}
	for _, want := range []string{"Jax: Shall we begin?", "Sage: Agreed.", "Ren to speak"} {
		if !strings.Contains(out, want) {
			t.Errorf("say output missing %q:\n%s", want, out)
		}
	}

	out, err = run(t, "room", "say", "-c", cfg, roomID, "Me again")
	if err == nil || !strings.Contains(err.Error(), "not this participant's turn") {
		t.Errorf("out-of-turn say err = %v", err)
	}

	if out, err = run(t, "room", "close", "-c", cfg, roomID, "That", "was", "good."); err != nil {
		t.Fatalf("close: %v\n%s", err, out)
	}
	if !strings.Contains(out, "locked") || !strings.Contains(out, "That was good.") {
		t.Errorf("close output:\n%s", out)
	}

	out, err = run(t, "room", "list", "-c", cfg)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, roomID) || !strings.Contains(out, "locked") {
		t.Errorf("list output:\n%s", out)
	}

	out, err = run(t, "room", "log", "-c", cfg, roomID)
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if !strings.Contains(out, "respond") || !strings.Contains(out, "Agreed.") {
		t.Errorf("log output:\n%s", out)
	}
}

func TestRoomCancel_EndToEnd(t *testing.T) {
	cfg := writeConfig(t)
	out, err := run(t, "room", "create", "-c", cfg, "--name", "Jax", "--with", "email:ren@example.com=Ren")
	if err != nil {
		t.Fatalf("room create: %v\n%s", err, out)
	}
	var roomID string
	fmt.Sscanf(out, "Created room %s", &roomID)

	out, err = run(t, "room", "cancel", "-c", cfg, roomID)
	if err != nil {
		t.Fatalf("cancel: %v\n%s", err, out)
	}
	if !strings.Contains(out, "defunct: cancelled") {
		t.Errorf("cancel output = %q", out)
	}

	out, err = run(t, "room", "sweep", "-c", cfg)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !strings.Contains(out, "Expired 0 room(s), abandoned 0 stalled room(s), settled 0 hold(s)") {
		t.Errorf("sweep output = %q", out)
	}
}

func TestRoomCreate_UnresolvableGuest(t *testing.T) {
	cfg := writeConfig(t)
	out, err := run(t, "room", "create", "-c", cfg, "--name", "Jax", "--with", "email:stranger@example.com=Stranger")
	if err == nil {
		t.Fatalf("expected resolution failure, got:\n%s", out)
	}
	if !strings.Contains(out, "defunct: resolution_failed(guest-1)") {
		t.Errorf("output:\n%s", out)
	}
}
