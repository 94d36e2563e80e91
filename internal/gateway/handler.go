package gateway

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"kana-backend/internal/records"
	"kana-backend/internal/shared/server/middleware"
	"kana-backend/internal/shared/server/respond"
)

const maxCommandSize = 256 << 20 // 256MB

// Handler exposes sessions and their command streams over HTTP.
type Handler struct {
	Broker  *Broker
	Records *records.Service
}

// NewHandler constructs a Handler.
func NewHandler(broker *Broker, recs *records.Service) *Handler {
	return &Handler{Broker: broker, Records: recs}
}

// RegisterRoutes attaches session and record routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/sessions", h.openSession)
	rg.DELETE("/sessions/:id", h.closeSession)
	rg.POST("/sessions/:id/commands", h.command)
	rg.GET("/records", h.listRecords)
}

func (h *Handler) openSession(c *gin.Context) {
	id, err := h.Broker.Open()
	if err != nil {
		if errors.Is(err, ErrTooManySessions) {
			respond.Error(c, http.StatusServiceUnavailable, "too_many_sessions", err.Error(), nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "failed to open session", err.Error(), nil)
		return
	}
	middleware.SetSessionID(c, id)
	respond.JSON(c, http.StatusCreated, gin.H{"id": id})
}

func (h *Handler) closeSession(c *gin.Context) {
	id := c.Param("id")
	middleware.SetSessionID(c, id)
	if !h.Broker.CloseSession(id) {
		respond.Error(c, http.StatusNotFound, "not_found", "session not found", nil)
		return
	}
	c.Status(http.StatusNoContent)
}

// command submits one command and streams its responses as server-sent
// events until the final one.
func (h *Handler) command(c *gin.Context) {
	id := c.Param("id")
	middleware.SetSessionID(c, id)
	w, ok := h.Broker.Get(id)
	if !ok {
		respond.Error(c, http.StatusNotFound, "not_found", "session not found", nil)
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxCommandSize)
	var cmd Command
	if err := c.ShouldBindJSON(&cmd); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	cmd.Type = strings.TrimSpace(cmd.Type)
	if cmd.Type == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "type is required", nil)
		return
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	middleware.SetCommandType(c, cmd.Type)

	ctx := c.Request.Context()
	out := make(chan Response, 16)
	sink := SinkFunc(func(r Response) {
		select {
		case out <- r:
		case <-ctx.Done():
		}
	})
	if err := w.Submit(ctx, cmd, sink); err != nil {
		if errors.Is(err, ErrClosed) {
			respond.Error(c, http.StatusGone, "session_closed", err.Error(), nil)
			return
		}
		respond.Error(c, http.StatusServiceUnavailable, "unavailable", err.Error(), nil)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	for {
		select {
		case r := <-out:
			c.SSEvent(r.Type, r)
			c.Writer.Flush()
			if r.Final {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *Handler) listRecords(c *gin.Context) {
	if h.Records == nil {
		respond.Error(c, http.StatusServiceUnavailable, "unavailable", "records store not configured", nil)
		return
	}
	list, err := h.Records.List(c.Request.Context())
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "failed to list records", err.Error(), nil)
		return
	}
	if list == nil {
		list = []records.Record{}
	}
	respond.JSON(c, http.StatusOK, gin.H{"records": list})
}
