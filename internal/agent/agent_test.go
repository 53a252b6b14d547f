package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/roundtable/internal/creation"
	"github.com/zulandar/roundtable/internal/models"
	"github.com/zulandar/roundtable/internal/room"
)

type fakeRunner struct {
	lines  []string
	err    error
	inputs []string
}

func (f *fakeRunner) Run(ctx context.Context, input string, onLine func(string)) (string, error) {
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return "", f.err
	}
	for _, l := range f.lines {
		if onLine != nil {
			onLine(l)
		}
	}
	return strings.Join(f.lines, "\n"), nil
}

type fakeRecorder struct {
	entries []models.AgentLog
}

func (f *fakeRecorder) Record(_ context.Context, e models.AgentLog) error {
	f.entries = append(f.entries, e)
	return nil
}

func transcript() []room.Message {
	return []room.Message{
		{ID: "m1", RoomID: "room-1", AuthorID: "jax", AuthorName: "Jax", Text: "Hello"},
		{ID: "m2", RoomID: "room-1", AuthorID: "agent", AuthorName: "Sage", Text: "Hi there", IsAgent: true},
		{ID: "m3", RoomID: "room-1", Text: "A storm rolls in.", IsNarration: true},
	}
}

func TestNewResponder_RequiresRunner(t *testing.T) {
	if _, err := NewResponder(Opts{}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := NewEvaluator(Opts{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestResponder_StreamsAndRecords(t *testing.T) {
	runner := &fakeRunner{lines: []string{"First thought.", "Second thought."}}
	logs := &fakeRecorder{}
	tick := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r, _ := NewResponder(Opts{Runner: runner, Logs: logs, Model: "sonnet", Now: func() time.Time {
		tick = tick.Add(250 * time.Millisecond)
		return tick
	}})

	var chunks []string
	out, err := r.Respond(context.Background(), "room-1", transcript(), func(c string) { chunks = append(chunks, c) })
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if out != "First thought.\nSecond thought." {
		t.Errorf("out = %q", out)
	}
	if strings.Join(chunks, "") != "First thought.\nSecond thought.\n" {
		t.Errorf("chunks = %q", chunks)
	}

	if len(logs.entries) != 2 {
		t.Fatalf("log entries = %d, want 2", len(logs.entries))
	}
	in, outLog := logs.entries[0], logs.entries[1]
	if in.Direction != "in" || in.RoomID != "room-1" || in.Purpose != "respond" || in.Model != "sonnet" {
		t.Errorf("in entry = %+v", in)
	}
	if outLog.Direction != "out" || outLog.LatencyMs != 250 {
		t.Errorf("out entry = %+v", outLog)
	}
}

func TestResponder_Failures(t *testing.T) {
	r, _ := NewResponder(Opts{Runner: &fakeRunner{err: errors.New("exit 1")}})
	if _, err := r.Respond(context.Background(), "room-1", transcript(), nil); err == nil {
		t.Error("expected runner error")
	}
	r, _ = NewResponder(Opts{Runner: &fakeRunner{}})
	if _, err := r.Respond(context.Background(), "room-1", transcript(), nil); err == nil {
		t.Error("expected empty reply error")
	}
}

func TestResponder_EmptyTranscriptKeepsRoomID(t *testing.T) {
	logs := &fakeRecorder{}
	r, _ := NewResponder(Opts{Runner: &fakeRunner{lines: []string{"Welcome, everyone."}}, Logs: logs})
	if _, err := r.Respond(context.Background(), "room-9", nil, nil); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if len(logs.entries) == 0 || logs.entries[0].RoomID != "room-9" {
		t.Errorf("entries = %+v, want room-9", logs.entries)
	}

	r, _ = NewResponder(Opts{Runner: &fakeRunner{}})
	_, err := r.Respond(context.Background(), "room-9", nil, nil)
	if err == nil || !strings.Contains(err.Error(), "room room-9") {
		t.Errorf("err = %v, want it to name room-9", err)
	}
}

func TestFormatTranscript(t *testing.T) {
	got := FormatTranscript(transcript())
	for _, want := range []string{"Jax: Hello\n", "[you] Sage: Hi there\n", "[narration] A storm rolls in.\n"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
	if !strings.Contains(FormatTranscript(nil), "has not started") {
		t.Error("empty transcript prompt should ask the agent to open")
	}
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		out  string
		want creation.Verdict
	}{
		{"ACCEPT", creation.Accepted},
		{"\n  accept, gladly\n", creation.Accepted},
		{"Decline.\nNot my topic.", creation.Declined},
		{"maybe", creation.VerdictUnspecified},
		{"", creation.VerdictUnspecified},
	}
	for _, tt := range tests {
		if got := ParseVerdict(tt.out); got != tt.want {
			t.Errorf("ParseVerdict(%q) = %s, want %s", tt.out, got, tt.want)
		}
	}
}

func TestEvaluator(t *testing.T) {
	roster := []room.ParticipantSpec{
		{ID: "jax", Identifier: room.LocalAccount("jax"), Nickname: "Jax"},
		{ID: "agent", Identifier: room.Agent(), Nickname: "Sage"},
	}

	runner := &fakeRunner{lines: []string{"DECLINE"}}
	e, _ := NewEvaluator(Opts{Runner: runner})
	v, err := e.Evaluate(context.Background(), roster, room.TierStandard)
	if err != nil || v != creation.Declined {
		t.Fatalf("Evaluate = %s, %v", v, err)
	}
	if !strings.Contains(runner.inputs[0], "- Jax\n") || strings.Contains(runner.inputs[0], "Sage") {
		t.Errorf("invitation = %q", runner.inputs[0])
	}

	e, _ = NewEvaluator(Opts{Runner: &fakeRunner{err: errors.New("spawn failed")}})
	if _, err := e.Evaluate(context.Background(), roster, room.TierStandard); !creation.IsTransient(err) {
		t.Errorf("runner failure err = %v, want transient", err)
	}

	e, _ = NewEvaluator(Opts{Runner: &fakeRunner{lines: []string{"hmm"}}})
	if _, err := e.Evaluate(context.Background(), roster, room.TierStandard); err == nil {
		t.Error("expected error for unrecognised answer")
	}
}
