package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lucid-vigil/nids-watch/pkg/actions"
	"github.com/lucid-vigil/nids-watch/pkg/actions/clear_state"
	"github.com/lucid-vigil/nids-watch/pkg/actions/introduce_anomaly"
	"github.com/lucid-vigil/nids-watch/pkg/api"
	"github.com/lucid-vigil/nids-watch/pkg/backend"
	"github.com/lucid-vigil/nids-watch/pkg/config"
	dashboarderrors "github.com/lucid-vigil/nids-watch/pkg/errors"
	"github.com/lucid-vigil/nids-watch/pkg/events"
	"github.com/lucid-vigil/nids-watch/pkg/healer"
	"github.com/lucid-vigil/nids-watch/pkg/logger"
	"github.com/lucid-vigil/nids-watch/pkg/monitors/runtime"
	"github.com/lucid-vigil/nids-watch/pkg/reactor"
	"github.com/lucid-vigil/nids-watch/pkg/scheduler"
	"github.com/lucid-vigil/nids-watch/pkg/state"
	"github.com/lucid-vigil/nids-watch/pkg/stream"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
)

func main() {
	configFile := flag.String("config", "", "path to the config file (default: ./config.yaml or /etc/nids-watch/config.yaml)")
	flag.Parse()

	// Load configuration first
	var (
		cfg *config.Config
		err error
	)
	if *configFile != "" {
		cfg, err = config.LoadConfigFile(*configFile)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger based on config
	logger.InitLogger(cfg.LogLevel, cfg.LogFormat)

	log.Info().Msg("nids-watch starting...")
	log.Info().Msgf("Configuration loaded: LogLevel=%s, APIPort=%s, Policy=%s",
		cfg.LogLevel, cfg.APIPort, cfg.Dashboard.MitigationPolicy)

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())

	// Set up a channel to listen for OS signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Goroutine to handle graceful shutdown
	go func() {
		sig := <-sigChan
		log.Info().Msgf("Received signal: %s. Shutting down gracefully...", sig)
		cancel()
	}()

	collector := dashboarderrors.NewStatsCollector()
	errHandler := dashboarderrors.NewErrorHandler(log.Logger, collector)

	bus := events.NewEventBus(log.Logger, cfg.EventBus.BufferSize)
	bus.Start(ctx)

	store := state.NewStore(cfg.Dashboard.WindowSize, cfg.Dashboard.Threshold, bus, log.Logger)

	mitigator := healer.NewClient(cfg.Healer.BaseURL, cfg.Healer.Timeout, cfg.Healer.ResponseFormat, log.Logger)
	react := reactor.New(store, mitigator, reactor.Options{
		Policy:  reactor.Policy(cfg.Dashboard.MitigationPolicy),
		Timeout: cfg.Healer.Timeout,
	}, log.Logger, errHandler)

	// Actions triggered from the dashboard
	dispatcher := actions.NewActionDispatcher(cfg.Actions, errHandler)
	dispatcher.RegisterAction(&introduce_anomaly.IntroduceAnomalyAction{
		Injector: backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout, log.Logger),
		Loading:  store,
	})
	dispatcher.RegisterAction(&clear_state.ClearStateAction{Resetter: react})

	// Initialize the scheduler and register monitors
	sched := scheduler.NewScheduler(cfg)
	sched.RegisterMonitor(stream.NewListener(cfg.Backend.StreamURL, react, store, log.Logger, errHandler))
	if rm, err := runtime.NewRuntimeMonitor(log.Logger); err != nil {
		log.Warn().Err(err).Msg("Runtime monitor unavailable")
	} else {
		sched.RegisterMonitor(rm)
	}

	server, err := api.NewServer(api.Options{
		Store:   store,
		Actions: dispatcher,
		Bus:     bus,
		Errors:  collector,
		Monitors: func() []api.StatusProvider {
			var out []api.StatusProvider
			for _, m := range sched.Monitors() {
				if sp, ok := m.(api.StatusProvider); ok {
					out = append(out, sp)
				}
			}
			return out
		},
		Logger: log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build API server")
	}
	bus.Subscribe(server.Hub())
	bus.Subscribe(auditLog(log.Logger))
	go server.Hub().Run(ctx)

	httpServer := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Msgf("API server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("API server failed")
			cancel()
		}
	}()

	// Apply threshold, log level and action gate edits without a restart
	reload := &reloader{
		store:    store,
		actions:  dispatcher,
		setLevel: logger.SetLevel,
		logger:   log.Logger,
	}
	cfg.OnChange(reload.apply, func(err error) {
		errHandler.HandleError(ctx, dashboarderrors.NewConfigError("config", err, map[string]interface{}{
			"file": cfg.ConfigFileUsed(),
		}))
	})

	// Start all configured monitors
	sched.Start(ctx)

	<-ctx.Done()

	sched.Wait()
	react.Close()
	bus.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("API server shutdown incomplete")
	}

	log.Info().Msg("nids-watch stopped.")
}
