package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"ecoroute/internal/api"
	"ecoroute/internal/buildinfo"
	"ecoroute/internal/catalog"
	"ecoroute/internal/config"
	"ecoroute/internal/events"
	"ecoroute/internal/logging"
	"ecoroute/internal/metrics"
	"ecoroute/internal/service"
	"ecoroute/internal/webhooks"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "api exited", logging.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log logging.Logger) error {
	cat, err := openCatalog(ctx, cfg.Catalog)
	if err != nil {
		return err
	}
	defer func() { _ = cat.Close() }()

	broker, err := openBroker(cfg.Events, log)
	if err != nil {
		return err
	}
	defer func() { _ = broker.Close() }()

	metrics.RegisterDefault()
	svc := service.New(cat, broker, log, cfg.Hotspots.Params(), cfg.Optimizer)
	srv := api.NewServer(svc, broker, log, cfg)

	if len(cfg.Webhooks.URLs) > 0 {
		wh := webhooks.NewWorker(cfg.Webhooks.URLs, cfg.Webhooks.Secret, cfg.Webhooks.MaxAttempts, log)
		go wh.Run(ctx, broker, events.TopicHotspots, events.TopicPlans)
	}

	addr := ":" + cfg.Server.Port
	hs := &http.Server{
		Addr:              addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		b := buildinfo.Info()
		log.Info(ctx, "API listening",
			logging.String("addr", addr),
			logging.String("version", b["version"]),
			logging.String("catalog", cfg.Catalog.Driver),
			logging.Bool("redis", cfg.Events.RedisURL != ""))
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err, ok := <-errc:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Info(context.Background(), "shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return hs.Shutdown(sctx)
}

func openCatalog(ctx context.Context, c config.Catalog) (catalog.Catalog, error) {
	switch c.Driver {
	case "", "memory":
		return catalog.NewMemory(), nil
	case "postgres":
		return catalog.OpenSQL(ctx, catalog.Postgres, c.DSN)
	case "sqlite":
		return catalog.OpenSQL(ctx, catalog.SQLite, c.DSN)
	default:
		return nil, fmt.Errorf("unknown catalog driver %q", c.Driver)
	}
}

func openBroker(c config.Events, log logging.Logger) (events.Broker, error) {
	if c.RedisURL == "" {
		return events.NewMemory(), nil
	}
	b, err := events.NewRedis(c.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis broker: %w", err)
	}
	return b.WithLogger(log), nil
}
