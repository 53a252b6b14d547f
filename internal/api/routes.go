package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zulandar/roundtable/internal/creation"
	"github.com/zulandar/roundtable/internal/merge"
	"github.com/zulandar/roundtable/internal/room"
	"github.com/zulandar/roundtable/internal/turn"
)

// registerRoutes sets up all API routes on the gin router.
func registerRoutes(router *gin.Engine, h *handlers) {
	api := router.Group("/api")
	api.POST("/rooms", h.createRoom)
	api.GET("/rooms/:id", h.getRoom)
	api.POST("/rooms/:id/signal", h.signal)
	api.POST("/rooms/:id/cancel", h.cancel)

	api.GET("/rooms/:id/messages", h.listMessages)
	api.POST("/rooms/:id/messages", h.sendMessage)
	api.POST("/rooms/:id/narrate", h.narrate)
	api.POST("/rooms/:id/yield", h.live(func(ctx context.Context, c *turn.Coordinator, _ *gin.Context) (room.Snapshot, error) {
		return c.YieldTurn(ctx)
	}))
	api.POST("/rooms/:id/agent", h.live(func(ctx context.Context, c *turn.Coordinator, _ *gin.Context) (room.Snapshot, error) {
		return c.InvokeAgent(ctx)
	}))
	api.DELETE("/rooms/:id/agent", h.cancelAgent)
	api.POST("/rooms/:id/hands", h.hand(true))
	api.DELETE("/rooms/:id/hands", h.hand(false))
	api.POST("/rooms/:id/need", h.postNeed)
	api.DELETE("/rooms/:id/need", h.live(func(ctx context.Context, c *turn.Coordinator, _ *gin.Context) (room.Snapshot, error) {
		return c.ClearNeed(ctx)
	}))
	api.POST("/rooms/:id/close", h.closeRoom)
	api.POST("/rooms/:id/leave", h.participantEvent(false))
	api.POST("/rooms/:id/decline", h.participantEvent(true))

	api.GET("/rooms/:id/events", h.events)
}

type handlers struct {
	opts Opts
}

type identifierRequest struct {
	Kind  room.IdentifierKind `json:"kind" binding:"required"`
	Value string              `json:"value"`
}

type participantRequest struct {
	ID         room.ParticipantID `json:"id" binding:"required"`
	Identifier identifierRequest  `json:"identifier" binding:"required"`
	Nickname   string             `json:"nickname" binding:"required"`
}

type createRequest struct {
	OriginatorID room.ParticipantID   `json:"originator_id" binding:"required"`
	Tier         string               `json:"tier" binding:"required"`
	IsFirstRoom  bool                 `json:"is_first_room"`
	Participants []participantRequest `json:"participants" binding:"required,min=1,dive"`
}

type participantBody struct {
	ParticipantID room.ParticipantID `json:"participant_id" binding:"required"`
}

type messageBody struct {
	AuthorID room.ParticipantID `json:"author_id"`
	Text     string             `json:"text" binding:"required"`
}

type textBody struct {
	Text string `json:"text" binding:"required"`
}

// roomView is the JSON shape of a room.
type roomView struct {
	ID           string                     `json:"id"`
	Version      int64                      `json:"version"`
	Lifecycle    room.RoomLifecycle         `json:"lifecycle"`
	Participants []room.EmbeddedParticipant `json:"participants"`
	Messages     []room.Message             `json:"messages"`
	Hold         *room.Hold                 `json:"hold,omitempty"`
	Speaker      room.ParticipantID         `json:"speaker,omitempty"`
	LocalSeat    room.ParticipantID         `json:"local_seat,omitempty"`
}

func (h *handlers) view(s room.Snapshot) roomView {
	v := roomView{
		ID:           s.ID(),
		Version:      s.Version,
		Lifecycle:    s.Lifecycle,
		Participants: s.Participants,
		Messages:     s.Messages,
		Hold:         s.Hold,
	}
	if v.Messages == nil {
		v.Messages = []room.Message{}
	}
	if a, ok := s.Lifecycle.State.(room.Active); ok {
		v.Speaker = s.Lifecycle.Spec.SpeakerAt(a.Turn.CurrentTurnIndex).ID
	}
	if id, err := h.opts.Live.LocalParticipant(s); err == nil {
		v.LocalSeat = id
	}
	return v
}

func (h *handlers) createRoom(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tier, err := room.ParseTier(req.Tier)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	spec := room.RoomSpec{OriginatorID: req.OriginatorID, Tier: tier, IsFirstRoom: req.IsFirstRoom}
	for _, p := range req.Participants {
		spec.Participants = append(spec.Participants, room.ParticipantSpec{
			ID:         p.ID,
			Identifier: room.Identifier{Kind: p.Identifier.Kind, Value: p.Identifier.Value},
			Nickname:   p.Nickname,
		})
	}

	s, err := h.opts.Creator.Create(c.Request.Context(), spec)
	if err != nil {
		h.fail(c, err, s)
		return
	}
	c.JSON(http.StatusCreated, h.view(s))
}

func (h *handlers) getRoom(c *gin.Context) {
	id := c.Param("id")
	if co, err := h.opts.Live.Coordinator(c.Request.Context(), id); err == nil {
		c.JSON(http.StatusOK, h.view(co.Snapshot()))
		return
	}
	s, err := h.opts.Rooms.Load(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, room.Snapshot{})
		return
	}
	c.JSON(http.StatusOK, h.view(s))
}

func (h *handlers) signal(c *gin.Context) {
	var body participantBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s, err := h.opts.Creator.SignalHere(c.Request.Context(), c.Param("id"), body.ParticipantID)
	if err != nil {
		h.fail(c, err, s)
		return
	}
	c.JSON(http.StatusOK, h.view(s))
}

func (h *handlers) cancel(c *gin.Context) {
	s, err := h.opts.Creator.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, s)
		return
	}
	c.JSON(http.StatusOK, h.view(s))
}

func (h *handlers) listMessages(c *gin.Context) {
	id := c.Param("id")
	if h.opts.Messages != nil {
		msgs, err := h.opts.Messages.Fetch(c.Request.Context(), id)
		if err != nil {
			h.fail(c, err, room.Snapshot{})
			return
		}
		if len(msgs) > 0 {
			c.JSON(http.StatusOK, gin.H{"messages": msgs})
			return
		}
	}
	s, err := h.opts.Rooms.Load(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, room.Snapshot{})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": h.view(s).Messages})
}

// live wraps an operation on the room's turn coordinator.
func (h *handlers) live(op func(ctx context.Context, co *turn.Coordinator, c *gin.Context) (room.Snapshot, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		co, err := h.opts.Live.Coordinator(c.Request.Context(), c.Param("id"))
		if err != nil {
			h.fail(c, err, room.Snapshot{})
			return
		}
		s, err := op(c.Request.Context(), co, c)
		if err != nil {
			h.fail(c, err, co.Snapshot())
			return
		}
		c.JSON(http.StatusOK, h.view(s))
	}
}

func (h *handlers) sendMessage(c *gin.Context) {
	var body messageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.live(func(ctx context.Context, co *turn.Coordinator, _ *gin.Context) (room.Snapshot, error) {
		author := body.AuthorID
		if author == "" {
			id, err := h.opts.Live.LocalParticipant(co.Snapshot())
			if err != nil {
				return co.Snapshot(), fmt.Errorf("api: author_id is required: %w", turn.ErrUnknownParticipant)
			}
			author = id
		}
		return co.SendMessage(ctx, author, body.Text)
	})(c)
}

func (h *handlers) narrate(c *gin.Context) {
	var body textBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.live(func(ctx context.Context, co *turn.Coordinator, _ *gin.Context) (room.Snapshot, error) {
		return co.Narrate(ctx, body.Text)
	})(c)
}

func (h *handlers) closeRoom(c *gin.Context) {
	var body textBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.live(func(ctx context.Context, co *turn.Coordinator, _ *gin.Context) (room.Snapshot, error) {
		return co.CloseRoom(ctx, body.Text)
	})(c)
}

func (h *handlers) hand(raised bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body participantBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.live(func(ctx context.Context, co *turn.Coordinator, _ *gin.Context) (room.Snapshot, error) {
			if raised {
				return co.RaiseHand(ctx, body.ParticipantID)
			}
			return co.LowerHand(ctx, body.ParticipantID)
		})(c)
	}
}

func (h *handlers) participantEvent(decline bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body participantBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.live(func(ctx context.Context, co *turn.Coordinator, _ *gin.Context) (room.Snapshot, error) {
			if decline {
				return co.Decline(ctx, body.ParticipantID)
			}
			return co.Leave(ctx, body.ParticipantID)
		})(c)
	}
}

func (h *handlers) postNeed(c *gin.Context) {
	var body participantBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.live(func(ctx context.Context, co *turn.Coordinator, _ *gin.Context) (room.Snapshot, error) {
		return co.PostNeed(ctx, room.Need{
			Kind:          room.NeedAgentWantsToSpeak,
			ParticipantID: body.ParticipantID,
		})
	})(c)
}

func (h *handlers) cancelAgent(c *gin.Context) {
	co, err := h.opts.Live.Coordinator(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, room.Snapshot{})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": co.CancelAgentResponse()})
}

// fail writes err with the status it maps to. A room that ended defunct is
// returned alongside the error.
func (h *handlers) fail(c *gin.Context, err error, s room.Snapshot) {
	body := gin.H{"error": err.Error()}
	var de *room.DefunctError
	if errors.As(err, &de) {
		body["reason"] = de.Reason
		if s.ID() != "" {
			body["room"] = h.view(s)
		}
	}
	c.JSON(statusFor(err), body)
}

func statusFor(err error) int {
	var de *room.DefunctError
	switch {
	case errors.As(err, &de):
		return http.StatusUnprocessableEntity
	case errors.Is(err, merge.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, room.ErrInvalidSpec):
		return http.StatusBadRequest
	case errors.Is(err, turn.ErrUnknownParticipant), errors.Is(err, creation.ErrUnknownParticipant):
		return http.StatusBadRequest
	case errors.Is(err, turn.ErrNotYourTurn), errors.Is(err, turn.ErrNotAgentTurn),
		errors.Is(err, turn.ErrRoomNotActive), errors.Is(err, turn.ErrResponseCancelled),
		errors.Is(err, room.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, turn.ErrAgentUnavailable):
		return http.StatusBadGateway
	case creation.IsTransient(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
