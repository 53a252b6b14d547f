package agent

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/zulandar/roundtable/internal/creation"
	"github.com/zulandar/roundtable/internal/models"
	"github.com/zulandar/roundtable/internal/room"
)

// Runner executes the agent on one prompt. *Spawner implements it.
type Runner interface {
	Run(ctx context.Context, input string, onLine func(string)) (string, error)
}

// Recorder stores agent I/O. *store.AgentLogs implements it.
type Recorder interface {
	Record(ctx context.Context, entry models.AgentLog) error
}

// Opts holds parameters shared by the Responder and the Evaluator.
type Opts struct {
	Runner  Runner
	Logs    Recorder // optional
	Model   string   // recorded alongside logs
	Timeout time.Duration
	Now     func() time.Time
}

type base struct {
	runner  Runner
	logs    Recorder
	model   string
	timeout time.Duration
	now     func() time.Time
}

func newBase(opts Opts) (base, error) {
	if opts.Runner == nil {
		return base{}, fmt.Errorf("agent: runner is required")
	}
	b := base{runner: opts.Runner, logs: opts.Logs, model: opts.Model, timeout: opts.Timeout, now: opts.Now}
	if b.now == nil {
		b.now = time.Now
	}
	return b, nil
}

// call runs prompt through the runner and records both directions.
func (b base) call(ctx context.Context, roomID, purpose, prompt string, onLine func(string)) (string, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	b.record(ctx, models.AgentLog{RoomID: roomID, Purpose: purpose, Direction: "in", Content: prompt, Model: b.model})

	started := b.now()
	out, err := b.runner.Run(ctx, prompt, onLine)
	if err != nil {
		return "", err
	}
	b.record(ctx, models.AgentLog{
		RoomID:    roomID,
		Purpose:   purpose,
		Direction: "out",
		Content:   out,
		Model:     b.model,
		LatencyMs: int(b.now().Sub(started).Milliseconds()),
	})
	return out, nil
}

func (b base) record(ctx context.Context, entry models.AgentLog) {
	if b.logs == nil {
		return
	}
	if err := b.logs.Record(context.WithoutCancel(ctx), entry); err != nil {
		log.Printf("agent: record %s log for room %s: %v", entry.Direction, entry.RoomID, err)
	}
}

// Responder implements turn.AgentResponder.
type Responder struct {
	base
}

// NewResponder creates a Responder.
func NewResponder(opts Opts) (*Responder, error) {
	b, err := newBase(opts)
	if err != nil {
		return nil, err
	}
	return &Responder{base: b}, nil
}

// Respond asks the agent for its next message. Every output line is
// streamed to onChunk with its newline.
func (r *Responder) Respond(ctx context.Context, roomID string, transcript []room.Message, onChunk func(string)) (string, error) {
	var onLine func(string)
	if onChunk != nil {
		onLine = func(line string) { onChunk(line + "\n") }
	}
	out, err := r.call(ctx, roomID, "respond", FormatTranscript(transcript), onLine)
	if err != nil {
		return "", fmt.Errorf("agent: respond in room %s: %w", roomID, err)
	}
	if out == "" {
		return "", fmt.Errorf("agent: respond in room %s: empty reply", roomID)
	}
	return out, nil
}

// FormatTranscript renders a room transcript as the agent's prompt.
func FormatTranscript(transcript []room.Message) string {
	var b strings.Builder
	b.WriteString("You are a participant in a turn-based group conversation. It is your turn.\n")
	b.WriteString("Reply with your next message only, without a name prefix.\n\n")
	if len(transcript) == 0 {
		b.WriteString("(The conversation has not started yet. Open it.)\n")
		return b.String()
	}
	b.WriteString("Conversation so far:\n\n")
	for _, m := range transcript {
		switch {
		case m.IsNarration:
			fmt.Fprintf(&b, "[narration] %s\n", m.Text)
		case m.IsAgent:
			fmt.Fprintf(&b, "[you] %s: %s\n", m.AuthorName, m.Text)
		default:
			fmt.Fprintf(&b, "%s: %s\n", m.AuthorName, m.Text)
		}
	}
	return b.String()
}

// Evaluator implements creation.AgentEvaluator by asking the agent whether
// it wants to join.
type Evaluator struct {
	base
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(opts Opts) (*Evaluator, error) {
	b, err := newBase(opts)
	if err != nil {
		return nil, err
	}
	return &Evaluator{base: b}, nil
}

// Evaluate returns Accepted or Declined. A run failure is reported as a
// transient error so room creation can be resumed.
func (e *Evaluator) Evaluate(ctx context.Context, roster []room.ParticipantSpec, tier room.Tier) (creation.Verdict, error) {
	out, err := e.call(ctx, "", "evaluate", FormatInvitation(roster, tier), nil)
	if err != nil {
		if ctx.Err() != nil {
			return creation.VerdictUnspecified, err
		}
		return creation.VerdictUnspecified, &creation.NetworkError{Detail: "agent: evaluate", Err: err}
	}
	v := ParseVerdict(out)
	if v == creation.VerdictUnspecified {
		return v, fmt.Errorf("agent: evaluate: unrecognised answer %q", truncate(out, 80))
	}
	return v, nil
}

// FormatInvitation renders the question put to the agent before it joins.
func FormatInvitation(roster []room.ParticipantSpec, tier room.Tier) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are invited to a %s tier group conversation with:\n\n", tier)
	for _, p := range roster {
		if p.IsAgent() {
			continue
		}
		fmt.Fprintf(&b, "- %s\n", p.Nickname)
	}
	b.WriteString("\nAnswer with a single word on the first line: ACCEPT or DECLINE.\n")
	return b.String()
}

// ParseVerdict reads the first non-empty line of an evaluator answer.
func ParseVerdict(out string) creation.Verdict {
	for _, line := range strings.Split(out, "\n") {
		line = strings.ToUpper(strings.TrimSpace(line))
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "ACCEPT"):
			return creation.Accepted
		case strings.HasPrefix(line, "DECLINE"):
			return creation.Declined
		}
		return creation.VerdictUnspecified
	}
	return creation.VerdictUnspecified
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
