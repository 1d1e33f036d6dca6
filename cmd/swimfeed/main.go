// Command swimfeed runs the SWIM ingestion-and-fanout pipeline: broker
// consumers for SFDPS and STDDS feeds, parser dispatch, the flight-state
// store, the legacy identity mapper, and the client fanout's HTTP and
// WebSocket surface.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/benwashere/swimfeed/internal/api"
	"github.com/benwashere/swimfeed/internal/broker"
	"github.com/benwashere/swimfeed/internal/bus"
	"github.com/benwashere/swimfeed/internal/config"
	"github.com/benwashere/swimfeed/internal/errs"
	"github.com/benwashere/swimfeed/internal/events"
	"github.com/benwashere/swimfeed/internal/fanout"
	"github.com/benwashere/swimfeed/internal/flightstate"
	"github.com/benwashere/swimfeed/internal/identity"
	"github.com/benwashere/swimfeed/internal/logging"
	"github.com/benwashere/swimfeed/internal/parser"
)

func main() {
	os.Exit(run())
}

func run() int {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	if _, err := config.LoadDotEnv(wd); err != nil {
		// A missing .env is not fatal; explicit environment variables
		// or a config file may supply everything.
	}

	cfg := config.Default()
	if path := os.Getenv("SWIMFEED_CONFIG"); path != "" {
		loaded, err := config.Load[config.Config](filepath.Clean(path))
		if err != nil {
			logging.New("info").WithField("path", path).Errorf("config: failed to load: %v", err)
			return 1
		}
		cfg = loaded
	}
	cfg.ApplyEnvOverrides()

	log := logging.New(os.Getenv("SWIMFEED_LOG_LEVEL"))

	if err := cfg.SFDPS.Validate("sfdps"); err != nil {
		cfgErr := errs.Config("cfg.SFDPS.Validate", "%v", err)
		log.WithError(cfgErr).Error("config: sfdps broker session misconfigured")
		return 1
	}
	if err := cfg.STDDS.Validate("stdds"); err != nil {
		cfgErr := errs.Config("cfg.STDDS.Validate", "%v", err)
		log.WithError(cfgErr).Error("config: stdds broker session misconfigured")
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown: signal received, draining")
		cancel()
	}()

	evBus := bus.New(logging.For(log, "bus"))

	registry := fanout.NewRegistry(logging.For(log, "fanout"), cfg.Fanout.ClientQueueCapacity)
	idMapper := identity.New(cfg.Identity.TTL)

	store := flightstate.New(
		logging.For(log, "flightstate"),
		cfg.FlightState.StaleTimeout,
		cfg.FlightState.SweepInterval,
		func(env flightstate.Envelope, facility string) { registry.Broadcast(env, facility) },
	)

	dispatch := &parser.Dispatch{
		Bus: evBus,
		Parsers: []parser.Parser{
			parser.TAISParser{},
			parser.SFDPSParser{},
			parser.TDESParser{},
			parser.SMESParser{},
			parser.APDSISMCParser{},
		},
		Log: logging.For(log, "parser"),
	}

	sfdpsConsumer := &broker.Consumer{
		Name:    "sfdps",
		Cfg:     cfg.SFDPS,
		Session: broker.NewDefaultSession(),
		Service: events.ServiceSFDPS,
		Publish: evBus.Publish,
		Log:     logging.For(log, "broker.sfdps"),
	}
	stddsConsumer := &broker.Consumer{
		Name:    "stdds",
		Cfg:     cfg.STDDS,
		Session: broker.NewDefaultSession(),
		Publish: evBus.Publish,
		Log:     logging.For(log, "broker.stdds"),
	}

	startedAt := time.Now()
	mux := http.NewServeMux()
	(&api.Handlers{Store: store, Registry: registry, StartedAt: startedAt}).Register(mux)
	mux.Handle("GET /ws", &fanout.WebSocketHandler{
		Registry:     registry,
		Store:        store,
		WriteTimeout: cfg.Fanout.WriteTimeout,
		Log:          logging.For(log, "fanout.ws"),
	})
	mux.Handle("GET /dstars/{facility}/updates", &fanout.HTTPStreamHandler{
		Registry:     registry,
		Store:        store,
		Identity:     idMapper,
		WriteTimeout: cfg.Fanout.WriteTimeout,
		Log:          logging.For(log, "fanout.httpstream"),
	})

	httpServer := &http.Server{Addr: cfg.HTTP.ListenAddr, Handler: mux}

	go dispatch.Run(ctx)
	go store.Run(ctx, evBus)
	go sweepIdentityPeriodically(ctx, idMapper)

	brokerErrCh := make(chan error, 2)
	go func() { brokerErrCh <- sfdpsConsumer.Run(ctx) }()
	go func() { brokerErrCh <- stddsConsumer.Run(ctx) }()

	go func() {
		log.WithField("addr", cfg.HTTP.ListenAddr).Info("http: listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http: server error")
		}
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
	case err := <-brokerErrCh:
		if err != nil && errs.Is(err, errs.KindBrokerFatal) {
			log.WithError(err).Error("broker: unrecoverable failure, shutting down")
			exitCode = 2
			cancel()
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)

	return exitCode
}

func sweepIdentityPeriodically(ctx context.Context, m *identity.Mapper) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
