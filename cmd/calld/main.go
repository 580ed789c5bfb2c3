package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Marrwan/choice-talent-frontend-sub002/internal/adapters/devices"
	router "github.com/Marrwan/choice-talent-frontend-sub002/internal/adapters/http"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/adapters/rtc"
	sigclient "github.com/Marrwan/choice-talent-frontend-sub002/internal/adapters/signal"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/adapters/ws"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/app"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/app/call"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/app/events"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/config"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/domain"
	"github.com/Marrwan/choice-talent-frontend-sub002/internal/metrics"
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
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	self, err := cfg.Self()
	if err != nil {
		log.Fatal().Err(err).Msg("identity.id is required")
	}

	devs, err := devices.New()
	if err != nil {
		log.Fatal().Err(err).Msg("media devices")
	}
	factory, err := rtc.NewFactory(rtc.Options{ICEServers: cfg.ICEServers, Codecs: devs.Codecs})
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc factory")
	}

	conn, err := ws.Dial(ctx, ws.Options{
		URL:         cfg.RelayURL,
		Participant: self.ID,
		PingPeriod:  cfg.PingPeriod,
		ReadLimit:   cfg.ReadLimit,
	})
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.RelayURL).Msg("relay url")
	}
	client := sigclient.NewClient(conn, self.ID)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	bus := events.NewBus()
	unobserve := bus.Observe(events.Observer{
		OnStateChange: func(s domain.Session) {
			log.Info().Str("module", "calld").Str("sid", string(s.ID)).Str("state", string(s.State)).Str("reason", s.Reason).Msg("call state")
		},
	})
	defer unobserve()

	machine := call.New(call.Config{Self: self, Timeouts: cfg.CallTimeouts()}, call.Deps{
		Signal:    client,
		Devices:   devs,
		Factory:   factory,
		Directory: app.NewStaticDirectory(cfg.Groups),
		Bus:       bus,
		Recorder:  metrics.NewCalls(reg),
	})
	go client.Run(ctx, machine)

	r := router.SetupControlRouter(cfg, machine, reg)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("participant", string(self.ID)).Msg("call daemon started")
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
	machine.Close()
	conn.Close()
	log.Info().Msg("Call daemon exited gracefully")
}
