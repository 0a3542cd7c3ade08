package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/roster/api"
	"github.com/kilianp07/roster/api/plans"
	"github.com/kilianp07/roster/app/plugins"
	"github.com/kilianp07/roster/config"
	"github.com/kilianp07/roster/core/forecast"
	"github.com/kilianp07/roster/core/lifecycle"
	coremetrics "github.com/kilianp07/roster/core/metrics"
	coremon "github.com/kilianp07/roster/core/monitoring"
	coremqtt "github.com/kilianp07/roster/core/mqtt"
	"github.com/kilianp07/roster/core/solver"
	corestore "github.com/kilianp07/roster/core/store"
	"github.com/kilianp07/roster/infra/cache"
	"github.com/kilianp07/roster/infra/logger"
	"github.com/kilianp07/roster/infra/metrics"
	"github.com/kilianp07/roster/infra/monitoring"
	"github.com/kilianp07/roster/infra/mqtt"
	_ "github.com/kilianp07/roster/infra/store"
)

// Service wires the lifecycle manager to its store, caches, metrics sinks,
// MQTT bridge and HTTP API.
type Service struct {
	Manager *lifecycle.Manager
	cfg     config.Config
	store   corestore.Store
	cache   forecast.DiffCache
	sink    coremetrics.MetricsSink
	mqtt    *mqtt.PahoClient
	log     logger.Logger
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	if err := logger.SetLevel(cfg.Logging.Level); err != nil {
		return nil, err
	}
	logg := logger.New("service")
	mon, err := monitoring.NewLogMonitor(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}
	coremon.Init(mon)

	st, err := corestore.New(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", cfg.Store.Type, err)
	}
	svc := &Service{cfg: *cfg, store: st, log: logg}
	fail := func(err error) (*Service, error) {
		_ = svc.Close()
		return nil, err
	}

	if svc.cache, err = cache.New(cfg.Cache); err != nil {
		return fail(fmt.Errorf("diff cache %s: %w", cfg.Cache.Type, err))
	}
	if svc.sink, err = coremetrics.NewMetricsSink(cfg.Metrics); err != nil {
		return fail(fmt.Errorf("metrics sinks: %w", err))
	}
	ref, err := plugins.NewRefiner(cfg.Refiner)
	if err != nil {
		return fail(fmt.Errorf("refiner %s: %w", cfg.Refiner.Type, err))
	}
	sopts := []solver.Option{solver.WithLogger(logger.New("solver"))}
	if ref != nil {
		sopts = append(sopts, solver.WithRefiner(ref))
	}

	svc.Manager = lifecycle.New(st,
		lifecycle.WithLogger(logger.New("lifecycle")),
		lifecycle.WithMetrics(svc.sink),
		lifecycle.WithPolicy(cfg.Policy),
		lifecycle.WithFreezeWindow(cfg.Freeze),
		lifecycle.WithNormalizer(cfg.Forecast),
		lifecycle.WithDiffCache(svc.cache),
		lifecycle.WithSolver(solver.New(sopts...)),
	)

	if cfg.MQTT.Broker != "" {
		if svc.mqtt, err = mqtt.NewPahoClient(cfg.MQTT, svc.handleDisruption); err != nil {
			return fail(fmt.Errorf("mqtt client: %w", err))
		}
	}
	return svc, nil
}

// handleDisruption repairs the plan named by an MQTT disruption command.
func (s *Service) handleDisruption(ctx context.Context, cmd coremqtt.DisruptionCommand) error {
	child, err := s.Manager.Repair(ctx, lifecycle.RepairRequest{
		PlanID:     cmd.PlanID,
		Disruption: cmd.Disruption,
		Now:        cmd.Now,
	})
	if err != nil {
		return err
	}
	s.log.Infof("plan %s repaired as %s", cmd.PlanID, child.ID)
	return nil
}

// Config returns the configuration the service was built from.
func (s *Service) Config() config.Config { return s.cfg }

// Handler returns the HTTP API handler.
func (s *Service) Handler() http.Handler {
	return api.NewHandler(s.Manager, s.cfg.API, plans.WithDefaults(s.cfg.Solver))
}

// Run starts the background collectors and the HTTP API and blocks until
// the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	metrics.StartEventCollector(ctx, s.Manager.EventLog(), s.sink)
	if s.mqtt != nil {
		mqtt.StartEventForwarder(ctx, s.Manager.EventLog(), s.mqtt)
	}
	if port := s.cfg.Metrics.PrometheusPort; port != "" {
		go func() {
			defer coremon.Recover("prom_server")
			if err := metrics.StartPromServer(ctx, port); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	return api.Serve(ctx, s.cfg.API, s.Handler())
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	var errs []error
	if s.mqtt != nil {
		s.mqtt.Disconnect()
	}
	if s.Manager != nil {
		errs = append(errs, s.Manager.Close())
	}
	if c, ok := s.cache.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	coremon.Flush(2 * time.Second)
	return errors.Join(errs...)
}
