// Package http exposes the local control surface the portal UI drives:
// call operations, state, and a notice stream.
package http

import (
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/medrelay/telecall/internal/config"
	"github.com/rs/zerolog/log"
)

func genClientToken() string {
	return uuid.NewString()
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(cfg *config.Config, ctl *Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("TelecallSessions", store))
	r.Use(ClientTokenMiddleware())

	log.Info().Str("module", "adapters.http").Int("port", cfg.ControlPort).Msg("router setup")

	api := r.Group("/api")

	api.POST("/call/dial", ctl.handleDial)
	api.POST("/call/accept", ctl.handleAccept)
	api.POST("/call/reject", ctl.handleReject)
	api.POST("/call/hangup", ctl.handleHangUp)
	api.POST("/call/audio", ctl.handleAudio)
	api.POST("/call/video", ctl.handleVideo)
	api.GET("/call/state", ctl.handleState)
	api.GET("/events", ctl.handleEvents)

	return r
}
