package main

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/zulandar/roundtable/internal/agent"
	"github.com/zulandar/roundtable/internal/api"
	"github.com/zulandar/roundtable/internal/config"
	"github.com/zulandar/roundtable/internal/creation"
	"github.com/zulandar/roundtable/internal/db"
	"github.com/zulandar/roundtable/internal/directory"
	"github.com/zulandar/roundtable/internal/hub"
	"github.com/zulandar/roundtable/internal/invite"
	"github.com/zulandar/roundtable/internal/merge"
	"github.com/zulandar/roundtable/internal/payment"
	"github.com/zulandar/roundtable/internal/store"
)

// app is every collaborator a command might need, built from one config.
type app struct {
	cfg      *config.Config
	db       *gorm.DB
	rooms    *store.Rooms
	store    *merge.Reconciler
	messages *store.Messages
	logs     *store.AgentLogs
	ledger   *payment.Ledger
	creator  *creation.Coordinator
	hub      *hub.Hub
	stream   *api.Stream
}

func loadApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return buildApp(ctx, cfg)
}

// buildApp connects to the database, migrates it, and wires the room
// services on top.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	gormDB, err := db.Prepare(cfg.Database)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, db: gormDB, stream: api.NewStream()}

	if a.rooms, err = store.NewRooms(gormDB); err != nil {
		return nil, err
	}
	if a.messages, err = store.NewMessages(gormDB); err != nil {
		return nil, err
	}
	if a.logs, err = store.NewAgentLogs(gormDB); err != nil {
		return nil, err
	}
	a.store = merge.NewReconciler(a.rooms)

	a.ledger, err = payment.NewLedger(payment.LedgerOpts{DB: gormDB, LimitCents: cfg.Payments.LimitCents})
	if err != nil {
		return nil, err
	}

	resolver, err := buildResolver(ctx, cfg.Directory)
	if err != nil {
		return nil, err
	}
	invites, err := buildInvites(cfg.Invites)
	if err != nil {
		return nil, err
	}

	spawner := &agent.Spawner{
		Binary:       cfg.Agent.Binary,
		Model:        cfg.Agent.Model,
		SystemPrompt: cfg.Agent.SystemPrompt,
		WorkDir:      cfg.Agent.WorkDir,
	}
	agentOpts := agent.Opts{
		Runner:  spawner,
		Logs:    a.logs,
		Model:   cfg.Agent.Model,
		Timeout: cfg.Agent.Timeout(),
	}
	responder, err := agent.NewResponder(agentOpts)
	if err != nil {
		return nil, err
	}
	evaluator, err := agent.NewEvaluator(agentOpts)
	if err != nil {
		return nil, err
	}

	a.hub, err = hub.New(hub.Opts{
		Store:    a.store,
		Messages: a.messages,
		Agent:    responder,
		Device: hub.Device{
			Credential: cfg.Device.Credential,
			Account:    cfg.Device.Account,
			Aliases:    cfg.Device.Aliases,
		},
		OnChunk: a.stream.Publish,
	})
	if err != nil {
		return nil, err
	}

	a.creator, err = creation.New(creation.Opts{
		Store:      a.store,
		Resolver:   resolver,
		Payments:   a.ledger,
		Evaluator:  evaluator,
		Invites:    invites,
		OnActivate: a.hub.Activate,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// buildResolver chains the static directory ahead of GitHub, when enabled.
func buildResolver(ctx context.Context, cfg config.DirectoryConfig) (creation.Resolver, error) {
	chain := directory.Chain{directory.NewStatic(cfg.Static)}
	if cfg.GitHub.Enabled {
		gh, err := directory.NewGitHub(ctx, cfg.GitHub.Token)
		if err != nil {
			return nil, err
		}
		chain = append(chain, gh)
	}
	return chain, nil
}

// buildInvites posts invites to every configured chat platform and always
// to the process log.
func buildInvites(cfg config.InvitesConfig) (creation.InviteDispatcher, error) {
	multi := invite.Multi{invite.Log{}}
	if cfg.Slack.BotToken != "" {
		s, err := invite.NewSlack(invite.SlackOpts{BotToken: cfg.Slack.BotToken, ChannelID: cfg.Slack.ChannelID})
		if err != nil {
			return nil, err
		}
		multi = append(multi, s)
	}
	if cfg.Discord.BotToken != "" {
		d, err := invite.NewDiscord(invite.DiscordOpts{BotToken: cfg.Discord.BotToken, ChannelID: cfg.Discord.ChannelID})
		if err != nil {
			return nil, err
		}
		multi = append(multi, d)
	}
	return multi, nil
}

func (a *app) apiOpts() api.Opts {
	return api.Opts{
		Rooms:    a.store,
		Creator:  a.creator,
		Live:     a.hub,
		Messages: a.messages,
		Chunks:   a.stream,
	}
}
