// Package api serves rooms over HTTP: a JSON API for every room operation
// and a server-sent-event stream of messages and agent output.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zulandar/roundtable/internal/room"
	"github.com/zulandar/roundtable/internal/turn"
)

// Rooms loads stored rooms. *merge.Reconciler implements it.
type Rooms interface {
	Load(ctx context.Context, roomID string) (room.Snapshot, error)
}

// Creator runs room formation. *creation.Coordinator implements it.
type Creator interface {
	Create(ctx context.Context, spec room.RoomSpec) (room.Snapshot, error)
	SignalHere(ctx context.Context, roomID string, id room.ParticipantID) (room.Snapshot, error)
	Cancel(ctx context.Context, roomID string) (room.Snapshot, error)
}

// Live hands out turn coordinators of active rooms. *hub.Hub implements it.
type Live interface {
	Coordinator(ctx context.Context, roomID string) (*turn.Coordinator, error)
	LocalParticipant(s room.Snapshot) (room.ParticipantID, error)
}

// Messages is the per-room message log. *store.Messages implements it.
type Messages interface {
	Fetch(ctx context.Context, roomID string) ([]room.Message, error)
	Observe(roomID string, onChange func(room.Message)) (cancel func())
}

// Opts holds the collaborators the API serves.
type Opts struct {
	Rooms    Rooms
	Creator  Creator
	Live     Live
	Messages Messages
	Chunks   *Stream // optional; agent output for the event stream
}

// StartOpts holds configuration for the API server.
type StartOpts struct {
	Opts
	Port int
	Out  io.Writer
}

// NewRouter builds the gin engine serving opts.
func NewRouter(opts Opts) (*gin.Engine, error) {
	if opts.Rooms == nil || opts.Creator == nil || opts.Live == nil {
		return nil, fmt.Errorf("api: rooms, creator and live are required")
	}
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, &handlers{opts: opts})
	return router, nil
}

// Start launches the API server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Port <= 0 {
		opts.Port = 8480
	}
	gin.SetMode(gin.ReleaseMode)
	router, err := NewRouter(opts.Opts)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: router,
	}
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Roundtable API listening on http://localhost:%d\n", opts.Port)
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}
