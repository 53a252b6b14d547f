package api

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zulandar/roundtable/internal/room"
)

const heartbeatInterval = 15 * time.Second

// chunkEvent is a piece of streamed agent output.
type chunkEvent struct {
	RoomID string `json:"room_id"`
	Text   string `json:"text"`
}

// events streams a room's new messages and agent output as server-sent
// events until the client goes away.
func (h *handlers) events(c *gin.Context) {
	roomID := c.Param("id")
	if _, err := h.opts.Rooms.Load(c.Request.Context(), roomID); err != nil {
		h.fail(c, err, room.Snapshot{})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	msgs := make(chan room.Message, 64)
	if h.opts.Messages != nil {
		stop := h.opts.Messages.Observe(roomID, func(m room.Message) {
			select {
			case msgs <- m:
			default:
			}
		})
		defer stop()
	}
	var chunks <-chan string
	if h.opts.Chunks != nil {
		ch, stop := h.opts.Chunks.Subscribe(roomID)
		defer stop()
		chunks = ch
	}

	writeSSE(c.Writer, "connected", map[string]string{"room_id": roomID})
	c.Writer.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeSSE(c.Writer, "heartbeat", map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
		case m := <-msgs:
			writeSSE(c.Writer, "message", m)
		case chunk := <-chunks:
			writeSSE(c.Writer, "chunk", chunkEvent{RoomID: roomID, Text: chunk})
		}
		c.Writer.Flush()
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
