package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/Marrwan/choice-talent-frontend-sub002/internal/app"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/app/call"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/app/events"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// CallControl is the call core surface the control API drives.
type CallControl interface {
	StartCall(ctx context.Context, target call.Target, kind domain.CallKind) (domain.SessionID, error)
	AcceptIncoming() error
	DeclineIncoming() error
	EndCall() error
	ToggleMute(ctx context.Context) error
	ToggleCamera(ctx context.Context) error
	ToggleScreenShare(ctx context.Context) error
	Snapshot() call.Snapshot
	Subscribe() (<-chan events.Event, func())
}

type controlHandler struct {
	ctl CallControl
}

type startRequest struct {
	Target string `json:"target"`
	Group  string `json:"group"`
	Kind   string `json:"kind" binding:"required,oneof=audio video"`
}

func (h *controlHandler) start(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if (req.Target == "") == (req.Group == "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "exactly one of target or group is required"})
		return
	}
	if req.Target != "" {
		if err := domain.ParticipantID(req.Target).Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	target := call.Target{Peer: domain.ParticipantID(req.Target), Group: req.Group}
	sid, err := h.ctl.StartCall(c.Request.Context(), target, domain.CallKind(req.Kind))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": sid})
}

func (h *controlHandler) intent(fn func(*gin.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := fn(c); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, h.ctl.Snapshot())
	}
}

func (h *controlHandler) state(c *gin.Context) {
	c.JSON(http.StatusOK, h.ctl.Snapshot())
}

// events streams bus events as SSE, starting with the current snapshot.
func (h *controlHandler) events(c *gin.Context) {
	ch, cancel := h.ctl.Subscribe()
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.SSEvent("snapshot", h.ctl.Snapshot())
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Type), ev)
			return true
		}
	})
	log.Debug().Str("module", "adapters.http").Msg("event stream closed")
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrCallInProgress),
		errors.Is(err, domain.ErrNoActiveCall):
		status = http.StatusConflict
	case errors.Is(err, app.ErrUnknownGroup):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrParticipantIDEmpty),
		errors.Is(err, domain.ErrParticipantIDLong):
		status = http.StatusBadRequest
	case errors.Is(err, call.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
