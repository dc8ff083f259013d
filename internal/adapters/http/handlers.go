package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/medrelay/telecall/internal/adapters/notify"
	"github.com/medrelay/telecall/internal/adapters/sink"
	"github.com/medrelay/telecall/internal/app"
	"github.com/medrelay/telecall/internal/core"
	"github.com/medrelay/telecall/internal/domain"
)

type Controller struct {
	Coord   *app.Coordinator
	Hub     *notify.Hub
	Channel core.SignalChannel
	Player  *sink.Player
}

type DialRequest struct {
	Target string `json:"target" binding:"required"`
	Title  string `json:"title"`
}

type ToggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, app.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, app.ErrChannelDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, app.ErrNoIdentity):
		return http.StatusUnauthorized
	case errors.Is(err, app.ErrNoTarget):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrNoCall):
		return http.StatusNotFound
	case errors.Is(err, app.ErrTooManyDials):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func respond(c *gin.Context, err error) {
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (ctl *Controller) handleDial(c *gin.Context) {
	var req DialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid target"})
		return
	}
	respond(c, ctl.Coord.Dial(c.Request.Context(), domain.UserID(req.Target), req.Title))
}

func (ctl *Controller) handleAccept(c *gin.Context) {
	respond(c, ctl.Coord.Accept(c.Request.Context()))
}

func (ctl *Controller) handleReject(c *gin.Context) {
	respond(c, ctl.Coord.Reject())
}

func (ctl *Controller) handleHangUp(c *gin.Context) {
	respond(c, ctl.Coord.HangUp())
}

func (ctl *Controller) handleAudio(c *gin.Context) {
	var req ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing enabled flag"})
		return
	}
	respond(c, ctl.Coord.SetAudio(*req.Enabled))
}

func (ctl *Controller) handleVideo(c *gin.Context) {
	var req ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing enabled flag"})
		return
	}
	respond(c, ctl.Coord.SetVideo(*req.Enabled))
}

func (ctl *Controller) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"call":              ctl.Coord.State(),
		"channel_connected": ctl.Channel.Connected(),
		"remote_streams":    ctl.Player.Stats(),
	})
}

// handleEvents streams user notices to the UI as server-sent events.
func (ctl *Controller) handleEvents(c *gin.Context) {
	ch, cancel := ctl.Hub.Subscribe()
	defer cancel()

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		select {
		case n, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("notice", n)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
