// Command meshd hosts the service registry and the config store behind a
// single HTTP server.
//
//	GET  /registry                          registry overview
//	PUT  /registry/{service}/{instanceId}   register or renew an instance
//	GET  /config/{app}/{profile}[/{label}]  resolve a snapshot
//	GET  /config/{app}/events               refresh events (SSE)
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/kbukum/meshkit/bootstrap"
	"github.com/kbukum/meshkit/bus"
	"github.com/kbukum/meshkit/component"
	"github.com/kbukum/meshkit/config"
	"github.com/kbukum/meshkit/configstore"
	"github.com/kbukum/meshkit/logger"
	"github.com/kbukum/meshkit/observability"
	"github.com/kbukum/meshkit/redis"
	"github.com/kbukum/meshkit/registry"
	"github.com/kbukum/meshkit/server"
	"github.com/kbukum/meshkit/server/endpoint"
)

func main() {
	var cfg Config
	if err := config.LoadConfig("meshd", &cfg, config.WithEnvPrefix("MESHD")); err != nil {
		fmt.Fprintf(os.Stderr, "meshd: %v\n", err)
		os.Exit(1)
	}

	app, err := bootstrap.NewApp(&cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "meshd: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := setup(ctx, app); err != nil {
		app.Logger.Fatal("Setup failed", logger.ErrorFields("setup", err))
	}
	if err := app.Run(ctx); err != nil {
		app.Logger.Fatal("meshd exited with error", logger.ErrorFields("run", err))
	}
}

// refreshBus is a bus the component registry can start and stop.
type refreshBus interface {
	bus.Bus
	component.Component
}

// setup wires every component into app. Registration order is start
// order: telemetry, bus, registry sweeper, config seed, HTTP server.
func setup(ctx context.Context, app *bootstrap.App[*Config]) error {
	cfg := app.Cfg
	log := app.Logger

	providers, err := observability.Init(ctx, cfg.Observability, cfg.Name, app.Version, cfg.Environment)
	if err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	// Registered first so it stops last, after every instrument is done.
	if err := app.RegisterComponent(telemetry{providers}); err != nil {
		return err
	}

	// nil picks up the global provider Init just installed.
	metrics, err := observability.NewMetrics(nil)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	refresh, err := newBus(app, metrics)
	if err != nil {
		return err
	}
	if err := app.RegisterComponent(refresh); err != nil {
		return err
	}

	reg := registry.New(cfg.Registry,
		registry.WithLogger(log),
		registry.WithMetrics(metrics),
	)
	if err := app.RegisterComponent(reg); err != nil {
		return err
	}

	store := configstore.New(refresh,
		configstore.WithLogger(log),
		configstore.WithMetrics(metrics),
	)
	if err := app.RegisterComponent(configstore.NewSeeder(store, cfg.ConfigStore.SeedDir, log)); err != nil {
		return err
	}

	srv := server.New(cfg.Server, log)
	srv.ApplyDefaults(cfg.Name, app.Components.HealthAll, meshStats(reg, store))
	registry.NewHandler(reg).Mount(srv.Engine())
	configstore.NewHandler(store, configstore.WithHandlerLogger(log)).Mount(srv.Engine())

	return app.RegisterComponent(server.NewComponent(srv))
}

// telemetry flushes the OTLP providers on Stop.
type telemetry struct{ p *observability.Providers }

func (telemetry) Name() string { return "observability" }

func (telemetry) Start(context.Context) error { return nil }

func (t telemetry) Stop(ctx context.Context) error { return t.p.Shutdown(ctx) }

func (telemetry) Health(context.Context) component.Health {
	return component.Health{Name: "observability", Status: component.StatusHealthy}
}

// newBus builds the configured refresh bus. The redis provider also
// registers the connection pool ahead of the bus so it stops last.
func newBus(app *bootstrap.App[*Config], metrics *observability.Metrics) (refreshBus, error) {
	cfg := app.Cfg.Bus
	switch cfg.Provider {
	case BusRedis:
		rc, err := redis.NewComponent(cfg.Redis, app.Logger)
		if err != nil {
			return nil, fmt.Errorf("bus.redis: %w", err)
		}
		if err := app.RegisterComponent(rc); err != nil {
			return nil, err
		}
		app.Logger.Info("Using redis refresh bus", logger.Fields("addr", rc.Client().Addr()))
		return bus.NewRedisBus(rc.Client(), app.Logger, metrics), nil
	default:
		return bus.NewHub(bus.WithLogger(app.Logger), bus.WithMetrics(metrics)), nil
	}
}

// meshStats summarizes registry and config store contents for /metrics.
func meshStats(reg *registry.Registry, store *configstore.Store) endpoint.StatsFunc {
	return func(ctx context.Context) map[string]any {
		summary := reg.Summary(ctx)
		instances, up := 0, 0
		for _, s := range summary {
			instances += s.Instances
			up += s.Up
		}
		return map[string]any{
			"services":            len(summary),
			"instances":           instances,
			"instances_up":        up,
			"registry_version":    reg.Version(),
			"config_applications": len(store.Applications()),
		}
	}
}
