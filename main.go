package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/joho/godotenv"

	"paddlearena/broker/internal/config"
	"paddlearena/broker/internal/leaderboard"
	"paddlearena/broker/internal/logging"
	"paddlearena/broker/internal/presence"
	"paddlearena/broker/internal/registry"
	"paddlearena/broker/internal/replay"
	"paddlearena/broker/internal/store"
)

func main() {
	//1.- Environment first: a local .env is optional and never fatal.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.L().Fatal("invalid configuration", logging.Error(err))
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		logging.L().Fatal("logger init failed", logging.Error(err))
	}
	logging.ReplaceGlobals(logger)
	defer func() { _ = logger.Sync() }()

	matchStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("store init failed", logging.Error(err))
	}

	tracker := presence.NewTracker()
	boards := leaderboard.NewAggregator(matchStore, logger)

	broker := NewBroker(tracker, logger,
		WithPingInterval(cfg.PingInterval),
		WithMaxPayloadBytes(cfg.MaxPayloadBytes))
	if cfg.AuthSecret != "" {
		authenticator, err := newHMACWebsocketAuthenticator(cfg.AuthSecret)
		if err != nil {
			logger.Fatal("auth init failed", logging.Error(err))
		}
		WithWebsocketAuthenticator(authenticator)(broker)
	}

	registryOpts := []registry.Option{
		registry.WithTickRate(cfg.TickRate),
		registry.WithCountdown(cfg.CountdownSeconds, time.Second),
		registry.WithCheckpointInterval(cfg.CheckpointInterval),
	}
	if cfg.ReplayDir != "" {
		replayDir := cfg.ReplayDir
		registryOpts = append(registryOpts, registry.WithRecorderFactory(func(matchID string) (*replay.Recorder, error) {
			return replay.NewRecorder(replayDir, matchID)
		}))
	}
	matches := registry.New(matchStore, boards, tracker, broker, logger, registryOpts...)
	defer matches.Close()
	broker.AttachRegistry(matches)

	scheduler, err := newMaintenanceScheduler(cfg, matches, logger)
	if err != nil {
		logger.Fatal("scheduler init failed", logging.Error(err))
	}
	scheduler.Start()
	defer func() { _ = scheduler.Shutdown() }()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", broker.serveWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.Address, Handler: mux}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("broker listening", logging.String("addr", cfg.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen failed", logging.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", logging.Error(err))
	}
}

// openStore picks Postgres when a DSN is configured, otherwise the in-memory
// store suitable for a single-process deployment.
func openStore(cfg *config.Config, logger *logging.Logger) (store.Store, error) {
	if cfg.DatabaseDSN == "" {
		logger.Info("using in-memory match store")
		return store.NewMemory(), nil
	}
	logger.Info("using postgres match store")
	return store.NewPostgres(cfg.DatabaseDSN, logger)
}

// newMaintenanceScheduler wires the periodic jobs: replay retention sweeps
// and retries for terminal saves that failed at finish time.
func newMaintenanceScheduler(cfg *config.Config, matches *registry.Registry, logger *logging.Logger) (gocron.Scheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	if cfg.ReplayDir != "" {
		cleaner := replay.NewCleaner(cfg.ReplayDir, replay.RetentionPolicy{
			MaxMatches: cfg.ReplayRetain,
			MaxAge:     cfg.ReplayMaxAge,
		}, logger)
		if _, err := scheduler.NewJob(
			gocron.DurationJob(time.Hour),
			gocron.NewTask(cleaner.RunOnce),
		); err != nil {
			return nil, err
		}
	}
	if _, err := scheduler.NewJob(
		gocron.DurationJob(30*time.Second),
		gocron.NewTask(func() { matches.RetryEvictions(context.Background()) }),
	); err != nil {
		return nil, err
	}
	return scheduler, nil
}
