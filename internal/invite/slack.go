package invite

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	slackapi "github.com/slack-go/slack"

	"github.com/zulandar/roundtable/internal/room"
)

// maxRetries is the max number of retries for rate-limited API calls.
const maxRetries = 3

// SlackClient is the part of the Slack API the dispatcher uses.
type SlackClient interface {
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// SlackOpts holds parameters for creating a Slack dispatcher.
type SlackOpts struct {
	BotToken  string // xoxb-... Slack bot token
	ChannelID string
	// For testing: inject a mock client instead of the real Slack API.
	Client SlackClient
}

// Slack posts invites to a Slack channel.
type Slack struct {
	client    SlackClient
	channelID string
}

// NewSlack creates a Slack dispatcher.
func NewSlack(opts SlackOpts) (*Slack, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("invite: slack bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("invite: slack channel is required")
	}
	client := opts.Client
	if client == nil {
		client = slackapi.New(opts.BotToken)
	}
	return &Slack{client: client, channelID: opts.ChannelID}, nil
}

// DispatchInvites implements creation.InviteDispatcher.
func (s *Slack) DispatchInvites(ctx context.Context, snap room.Snapshot) error {
	inv := Build(snap)
	att := slackapi.Attachment{
		Title:    inv.Title(),
		Text:     "Signal that you are here to start the conversation.",
		Color:    "#2eb886",
		Fallback: inv.Text(),
		Footer:   "room " + inv.RoomID,
	}
	for _, w := range inv.Waiting {
		att.Fields = append(att.Fields, slackapi.AttachmentField{Title: w.Nickname, Value: w.Identifier, Short: true})
	}
	options := []slackapi.MsgOption{
		slackapi.MsgOptionText(inv.Text(), false),
		slackapi.MsgOptionAttachments(att),
	}

	err := retryOnRateLimit(ctx, func() error {
		_, _, postErr := s.client.PostMessage(s.channelID, options...)
		return postErr
	})
	if err != nil {
		return fmt.Errorf("invite: slack post for room %s: %w", inv.RoomID, err)
	}
	return nil
}

func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}
