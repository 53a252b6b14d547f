package invite

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	slackapi "github.com/slack-go/slack"

	"github.com/zulandar/roundtable/internal/room"
)

func snapshot(t *testing.T) room.Snapshot {
	t.Helper()
	s, err := room.NewSnapshot(room.RoomSpec{
		ID:           "room-1",
		OriginatorID: "jax",
		Participants: []room.ParticipantSpec{
			{ID: "jax", Identifier: room.LocalAccount("jax"), Nickname: "Jax"},
			{ID: "agent", Identifier: room.Agent(), Nickname: "Sage"},
			{ID: "mira", Identifier: room.Email("mira@example.com"), Nickname: "Mira"},
			{ID: "otto", Identifier: room.Phone("+15550100000"), Nickname: "Otto"},
		},
		Tier:      room.TierStandard,
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("NewSnapshot: %v", err)
	}
	s.MarkSignaled("jax")
	return s
}

func TestBuild(t *testing.T) {
	inv := Build(snapshot(t))
	if inv.RoomID != "room-1" || inv.Originator != "Jax" || inv.Tier != room.TierStandard {
		t.Errorf("inv = %+v", inv)
	}
	if len(inv.Waiting) != 2 || inv.Waiting[0].Nickname != "Mira" || inv.Waiting[1].Identifier != "phone:+15550100000" {
		t.Errorf("waiting = %+v", inv.Waiting)
	}
	want := "Jax opened a standard room (room room-1). Waiting for: Mira, Otto."
	if got := inv.Text(); got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}

type recordingDispatcher struct {
	err   error
	calls int
}

func (r *recordingDispatcher) DispatchInvites(context.Context, room.Snapshot) error {
	r.calls++
	return r.err
}

func TestMulti_TriesEveryDispatcher(t *testing.T) {
	bad := &recordingDispatcher{err: errors.New("slack down")}
	good := &recordingDispatcher{}
	err := Multi{bad, good, Log{}}.DispatchInvites(context.Background(), snapshot(t))
	if err == nil || !strings.Contains(err.Error(), "slack down") {
		t.Errorf("err = %v", err)
	}
	if bad.calls != 1 || good.calls != 1 {
		t.Errorf("calls = %d, %d", bad.calls, good.calls)
	}
	if err := (Multi{good}).DispatchInvites(context.Background(), snapshot(t)); err != nil {
		t.Errorf("err = %v", err)
	}
}

type mockSlack struct {
	channels []string
	calls    int
	failures []error
}

func (m *mockSlack) PostMessage(channelID string, _ ...slackapi.MsgOption) (string, string, error) {
	m.calls++
	m.channels = append(m.channels, channelID)
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return "", "", err
	}
	return channelID, "1700000000.000100", nil
}

func TestNewSlack_Validation(t *testing.T) {
	if _, err := NewSlack(SlackOpts{ChannelID: "C1"}); err == nil {
		t.Error("expected error without token or client")
	}
	if _, err := NewSlack(SlackOpts{BotToken: "xoxb"}); err == nil {
		t.Error("expected error without channel")
	}
	if _, err := NewSlack(SlackOpts{BotToken: "xoxb", ChannelID: "C1"}); err != nil {
		t.Errorf("NewSlack: %v", err)
	}
}

func TestSlack_Dispatch(t *testing.T) {
	client := &mockSlack{}
	s, _ := NewSlack(SlackOpts{Client: client, ChannelID: "C0123"})
	if err := s.DispatchInvites(context.Background(), snapshot(t)); err != nil {
		t.Fatalf("DispatchInvites: %v", err)
	}
	if client.calls != 1 || client.channels[0] != "C0123" {
		t.Errorf("calls = %d channels = %v", client.calls, client.channels)
	}
}

func TestSlack_RetriesRateLimit(t *testing.T) {
	client := &mockSlack{failures: []error{&slackapi.RateLimitedError{RetryAfter: time.Millisecond}}}
	s, _ := NewSlack(SlackOpts{Client: client, ChannelID: "C0123"})
	if err := s.DispatchInvites(context.Background(), snapshot(t)); err != nil {
		t.Fatalf("DispatchInvites: %v", err)
	}
	if client.calls != 2 {
		t.Errorf("calls = %d, want 2", client.calls)
	}
}

func TestSlack_OtherErrorNotRetried(t *testing.T) {
	client := &mockSlack{failures: []error{errors.New("channel_not_found")}}
	s, _ := NewSlack(SlackOpts{Client: client, ChannelID: "C0123"})
	if err := s.DispatchInvites(context.Background(), snapshot(t)); err == nil {
		t.Fatal("expected error")
	}
	if client.calls != 1 {
		t.Errorf("calls = %d, want 1", client.calls)
	}
}

type mockDiscord struct {
	sent     []*discordgo.MessageSend
	failures []error
}

func (m *mockDiscord) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return nil, err
	}
	m.sent = append(m.sent, data)
	return &discordgo.Message{ChannelID: channelID}, nil
}

func TestNewDiscord_Validation(t *testing.T) {
	if _, err := NewDiscord(DiscordOpts{ChannelID: "1"}); err == nil {
		t.Error("expected error without token or session")
	}
	if _, err := NewDiscord(DiscordOpts{BotToken: "tok"}); err == nil {
		t.Error("expected error without channel")
	}
}

func TestDiscord_DispatchEmbed(t *testing.T) {
	sess := &mockDiscord{}
	d, _ := NewDiscord(DiscordOpts{Session: sess, ChannelID: "998877"})
	if err := d.DispatchInvites(context.Background(), snapshot(t)); err != nil {
		t.Fatalf("DispatchInvites: %v", err)
	}
	if len(sess.sent) != 1 {
		t.Fatalf("sent = %d", len(sess.sent))
	}
	embed := sess.sent[0].Embeds[0]
	if embed.Title != "Jax opened a standard room" || len(embed.Fields) != 2 || embed.Fields[0].Name != "Mira" {
		t.Errorf("embed = %+v", embed)
	}
}

func TestDiscord_RetriesTooManyRequests(t *testing.T) {
	limited := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}}
	sess := &mockDiscord{failures: []error{limited, limited}}
	d, _ := NewDiscord(DiscordOpts{Session: sess, ChannelID: "998877", Backoff: time.Millisecond})
	if err := d.DispatchInvites(context.Background(), snapshot(t)); err != nil {
		t.Fatalf("DispatchInvites: %v", err)
	}
	if len(sess.sent) != 1 {
		t.Errorf("sent = %d, want 1", len(sess.sent))
	}
}

func TestDiscord_GivesUp(t *testing.T) {
	forbidden := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}}
	sess := &mockDiscord{failures: []error{forbidden}}
	d, _ := NewDiscord(DiscordOpts{Session: sess, ChannelID: "998877", Backoff: time.Millisecond})
	if err := d.DispatchInvites(context.Background(), snapshot(t)); err == nil {
		t.Fatal("expected error")
	}
}
