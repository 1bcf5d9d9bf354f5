package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/econfeed/internal/fetch"
	"github.com/sells-group/econfeed/internal/monitoring"
	"github.com/sells-group/econfeed/internal/notify"
	"github.com/sells-group/econfeed/internal/registry"
	"github.com/sells-group/econfeed/internal/remediation"
	"github.com/sells-group/econfeed/internal/service"
	"github.com/sells-group/econfeed/internal/store"
)

// appEnv holds the wired subsystem shared by the serve/fetch/status/alerts/
// jobs commands.
type appEnv struct {
	Store   store.Store
	Service *service.Service
	Engine  *remediation.Engine
	Tracker *monitoring.Tracker
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.SQLitePath)
	default:
		return nil, eris.Errorf("env: unknown store driver %q", cfg.Store.Driver)
	}
}

// initEnv sets up the store, connector registry, health tracker, fetch
// service, and remediation engine. Callers should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "env: migrate store")
	}

	reg := registry.NewConnectorRegistry()
	if cfg.Catalog.Path != "" {
		if err := reg.LoadCatalogFile(cfg.Catalog.Path); err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "env: load connector catalog")
		}
		zap.L().Info("connector catalog loaded",
			zap.String("path", cfg.Catalog.Path),
			zap.Int("connectors", len(reg.All())),
		)
	}

	sinks := []notify.Sink{notify.LogSink{}}
	if cfg.Monitoring.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.Monitoring.WebhookURL))
		zap.L().Info("webhook notifications enabled")
	}

	alerts := monitoring.NewAlertManager(st, sinks...)
	tracker := monitoring.NewTracker(alerts, st)
	if err := tracker.Bootstrap(ctx, reg.All()); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "env: bootstrap health tracker")
	}

	fetcher := fetch.NewService(reg, tracker, st, fetch.HTTPOptions{
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   cfg.Fetch.Timeout(),
	})

	engine, err := remediation.NewEngine(ctx, st, reg, tracker, alerts, fetcher, remediation.NewTimerScheduler())
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "env: init remediation engine")
	}
	tracker.OnBreakerOpen(engine.HandleBreakerOpen)

	return &appEnv{
		Store:   st,
		Service: service.New(reg, st, tracker, alerts, fetcher, engine),
		Engine:  engine,
		Tracker: tracker,
	}, nil
}
