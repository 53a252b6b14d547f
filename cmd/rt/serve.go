package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zulandar/roundtable/internal/api"
	"github.com/zulandar/roundtable/internal/replica"
	"github.com/zulandar/roundtable/internal/room"
	"github.com/zulandar/roundtable/internal/store"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the room API and the replica jobs",
		Long: `Serves the room HTTP API and event stream, and runs the replica jobs on
their cron schedules: syncing rooms changed by other devices and expiring
rooms whose humans never arrived.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Roundtable config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides http.port)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := loadApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.hub.Close()
	if port <= 0 {
		port = a.cfg.HTTP.Port
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	poller, err := replica.NewPoller(a.rooms, a.hub)
	if err != nil {
		return err
	}
	sweeper, err := replica.NewSweeper(replica.SweeperOpts{
		Rooms: a.rooms,
		Ender: a.creator,
		TTL:   a.cfg.Rooms.InviteTTL(),
	})
	if err != nil {
		return err
	}

	resumeFormation(ctx, a)
	if n, err := poller.Poll(ctx); err != nil {
		log.Printf("serve: initial sync: %v", err)
	} else {
		log.Printf("serve: initial sync delivered %d room(s)", n)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		replica.Run(gctx, replica.Schedules{
			Sync:   a.cfg.Rooms.SyncSchedule,
			Expiry: a.cfg.Rooms.ExpirySchedule,
		}, poller, sweeper)
		return nil
	})
	g.Go(func() error {
		return api.Start(gctx, api.StartOpts{
			Opts: a.apiOpts(),
			Port: port,
			Out:  cmd.OutOrStdout(),
		})
	})
	return g.Wait()
}

// formationStates are the pre-active states creation can advance without
// the humans.
var formationStates = []room.StateKind{
	room.StateDraft,
	room.StatePendingAgentAcceptance,
	room.StatePendingCapture,
}

// resumeFormation picks up rooms a previous process left mid-creation.
func resumeFormation(ctx context.Context, a *app) {
	rooms, err := a.rooms.List(ctx, store.Query{States: formationStates})
	if err != nil {
		log.Printf("serve: list rooms to resume: %v", err)
		return
	}
	for _, s := range rooms {
		next, err := a.creator.Run(ctx, s.ID())
		if err != nil {
			log.Printf("serve: resume room %s: %v", s.ID(), err)
			continue
		}
		log.Printf("serve: resumed room %s [state=%s]", s.ID(), next.Lifecycle.State.Kind())
	}
}
