package invite

import (
	"context"
	"fmt"
	"log"
	"math"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/zulandar/roundtable/internal/room"
)

// DiscordSession is the part of discordgo.Session the dispatcher uses.
type DiscordSession interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordOpts holds parameters for creating a Discord dispatcher.
type DiscordOpts struct {
	BotToken  string
	ChannelID string
	// For testing: inject a mock session instead of the real Discord API.
	Session DiscordSession
	// Backoff is the first wait after a 429. Defaults to 2s.
	Backoff time.Duration
}

// Discord posts invites as embeds to a Discord channel. Only the REST API is
// used, so no gateway connection is opened.
type Discord struct {
	sess      DiscordSession
	channelID string
	backoff   time.Duration
}

// NewDiscord creates a Discord dispatcher.
func NewDiscord(opts DiscordOpts) (*Discord, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("invite: discord bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("invite: discord channel is required")
	}
	sess := opts.Session
	if sess == nil {
		dg, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("invite: discord session: %w", err)
		}
		sess = dg
	}
	d := &Discord{sess: sess, channelID: opts.ChannelID, backoff: opts.Backoff}
	if d.backoff <= 0 {
		d.backoff = 2 * time.Second
	}
	return d, nil
}

// DispatchInvites implements creation.InviteDispatcher.
func (d *Discord) DispatchInvites(ctx context.Context, snap room.Snapshot) error {
	inv := Build(snap)
	embed := &discordgo.MessageEmbed{
		Title:       inv.Title(),
		Description: "Signal that you are here to start the conversation.",
		Color:       0x2eb886,
		Footer:      &discordgo.MessageEmbedFooter{Text: "room " + inv.RoomID},
	}
	for _, w := range inv.Waiting {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: w.Nickname, Value: w.Identifier, Inline: true})
	}
	data := &discordgo.MessageSend{Content: inv.Text(), Embeds: []*discordgo.MessageEmbed{embed}}

	for attempt := 0; ; attempt++ {
		_, err := d.sess.ChannelMessageSendComplex(d.channelID, data)
		if err == nil {
			return nil
		}
		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != http.StatusTooManyRequests || attempt == maxRetries {
			return fmt.Errorf("invite: discord send for room %s: %w", inv.RoomID, err)
		}
		wait := time.Duration(math.Pow(2, float64(attempt))) * d.backoff
		log.Printf("invite: discord rate limited (attempt %d/%d), retrying in %v", attempt+1, maxRetries, wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
