package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	router "github.com/dkeye/voicestream/internal/adapters/http"
	"github.com/dkeye/voicestream/internal/adapters/rtc"
	wssignal "github.com/dkeye/voicestream/internal/adapters/signal"
	"github.com/dkeye/voicestream/internal/app/orch"
	"github.com/dkeye/voicestream/internal/config"
	"github.com/dkeye/voicestream/internal/logging"
	"github.com/dkeye/voicestream/internal/metrics"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize the global logger early so config.Load can use it.
	if err := logging.Init("info", true); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := logging.Init(cfg.Log.Level, cfg.Log.Pretty); err != nil {
		log.Fatal().Err(err).Msg("bad log level")
	}

	peers, err := rtc.NewFactory(rtc.DefaultWebRTCConfig(), "relay")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init webrtc")
	}

	m := metrics.New()
	o := orch.New(peers, m)
	o.GatherTimeout = cfg.Server.GatherTimeout

	ctl := wssignal.NewSignalWSController(o, m)
	ctl.ReadLimit = cfg.Server.ReadLimit
	if cfg.Server.PingPeriod > 0 {
		ctl.PingPeriod = cfg.Server.PingPeriod
	}

	go o.RunTelemetry(ctx, cfg.Server.TelemetryPeriod)
	go o.RunStaleSweep(ctx, cfg.Server.StaleSweep, cfg.Server.StaleTTL)

	r := router.SetupRouter(ctx, &cfg.Server, ctl)
	addr := fmt.Sprintf(":%d", cfg.Server.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("voicestream relay started")
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
	log.Info().Msg("Server exited gracefully")
}
