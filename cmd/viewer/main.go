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

	router "github.com/dkeye/LiveView/internal/adapters/http"
	"github.com/dkeye/LiveView/internal/adapters/rtc"
	"github.com/dkeye/LiveView/internal/adapters/shell"
	"github.com/dkeye/LiveView/internal/app"
	"github.com/dkeye/LiveView/internal/app/orch"
	"github.com/dkeye/LiveView/internal/app/sink"
	"github.com/dkeye/LiveView/internal/app/viewer"
	"github.com/dkeye/LiveView/internal/config"
	"github.com/dkeye/LiveView/internal/core"
	"github.com/dkeye/LiveView/internal/gateway"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	} else {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, keeping info")
	}

	gw, err := gateway.New(gateway.Config{
		BaseURL: cfg.Gateway.BaseURL,
		Token:   cfg.Gateway.Token,
		Timeout: cfg.Gateway.Timeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("gateway client")
	}

	if cfg.Recording.Dir != "" {
		if err := os.MkdirAll(cfg.Recording.Dir, 0o755); err != nil {
			log.Fatal().Err(err).Str("dir", cfg.Recording.Dir).Msg("recording dir")
		}
	}

	transport := rtc.NewTransport(rtc.Config{
		SignalURL:        cfg.RTC.SignalURL,
		ICEServers:       cfg.RTC.ICEServers,
		HandshakeTimeout: cfg.RTC.HandshakeTimeout,
		ReadLimit:        cfg.ReadLimit,
	})
	viewerOpts := viewer.Options{
		Mode:              core.ClientMode(cfg.Viewer.Mode),
		HeartbeatInterval: cfg.Viewer.HeartbeatInterval,
		JoinTimeout:       cfg.Viewer.JoinTimeout,
		FirstTrackWait:    cfg.Viewer.FirstTrackWait,
		LeaveTimeout:      cfg.Viewer.LeaveTimeout,
	}

	o := &orch.Orchestrator{
		Registry:  app.NewRegistry(),
		Policy:    app.SimplePolicy{MaxDropped: cfg.Limits.MaxDroppedFrames},
		Gateway:   gw,
		Transport: transport,
		Viewer:    viewerOpts,
		Sink:      sink.Options{RecordDir: cfg.Recording.Dir},
	}

	ctrl := shell.NewShellWSController(
		o,
		shell.NewOpenRateLimiter(cfg.Limits.OpensPerWindow, cfg.Limits.OpenWindow),
		shell.Config{
			ReadLimit:      cfg.ReadLimit,
			PingPeriod:     cfg.PingPeriod,
			MountsPerToken: cfg.Limits.MountsPerToken,
		},
	)

	r := router.SetupRouter(ctx, cfg, o, ctrl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("LiveView server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	// Mounts end with ctx; give their viewers time to leave.
	deadline := time.Now().Add(3 * time.Second)
	for o.Registry.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	log.Info().Int("remaining", o.Registry.Len()).Msg("Server exited gracefully")
}
