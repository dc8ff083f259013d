package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/medrelay/telecall/internal/adapters/channel"
	router "github.com/medrelay/telecall/internal/adapters/http"
	"github.com/medrelay/telecall/internal/adapters/identity"
	"github.com/medrelay/telecall/internal/adapters/media"
	"github.com/medrelay/telecall/internal/adapters/notify"
	"github.com/medrelay/telecall/internal/adapters/rtc"
	"github.com/medrelay/telecall/internal/adapters/sink"
	"github.com/medrelay/telecall/internal/adapters/token"
	"github.com/medrelay/telecall/internal/app"
	"github.com/medrelay/telecall/internal/config"
	"github.com/medrelay/telecall/internal/core"
	"github.com/medrelay/telecall/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	tokens := token.NewFileStore(cfg.TokenPath)
	idp := identity.NewClient(cfg.IdentityURL, tokens)
	hub := notify.NewHub()
	player := sink.NewPlayer()

	lifecycle := channel.NewLifecycle(channel.Options{
		URL:               cfg.RelayURL,
		ConnectTimeout:    cfg.ConnectTimeout,
		PingPeriod:        cfg.PingPeriod,
		ReconnectAttempts: cfg.ReconnectAttempts,
	}, idp, tokens, hub)
	defer lifecycle.Close()

	coord := app.NewCoordinator(ctx, app.Deps{
		Channel:  lifecycle,
		Identity: idp,
		Notify:   hub,
		Sink:     player,
		Media: func() (core.MediaSource, error) {
			return media.Capture()
		},
		Negotiator: func(src core.MediaSource, room domain.RoomID) (core.Negotiator, error) {
			if ms, ok := src.(*media.Source); ok {
				return rtc.New(rtc.DefaultConfig(cfg.STUNServers), ms.API(), room)
			}
			return rtc.New(rtc.DefaultConfig(cfg.STUNServers), nil, room)
		},
		DialTimeout: cfg.DialTimeout,
	})
	defer coord.Close()

	// Losing authorization force-ends any call and releases the channel.
	lifecycle.OnAuthExpired(func() {
		_ = coord.HangUp()
		idp.Invalidate()
	})

	stopWatch, err := tokens.Watch(func() {
		idp.Invalidate()
		lifecycle.OnTokenChanged(ctx)
	})
	if err != nil {
		log.Warn().Err(err).Msg("token watch unavailable, relying on startup state")
	} else {
		defer stopWatch()
	}

	lifecycle.Sync(ctx)

	ctl := &router.Controller{Coord: coord, Hub: hub, Channel: lifecycle, Player: player}
	r := router.SetupRouter(cfg, ctl)
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.ControlPort)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("telecall control API started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Exited gracefully")
}
