// Package app is the composition root: it wires config, storage, the
// domain packages and the HTTP adapter into one Application, and owns
// their startup and shutdown order.
//
// Import Path: servicebox.io/fsmcore/internal/app
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"servicebox.io/fsmcore/internal/catalog"
	"servicebox.io/fsmcore/internal/config"
	"servicebox.io/fsmcore/internal/domain"
	"servicebox.io/fsmcore/internal/kpi"
	"servicebox.io/fsmcore/internal/orchestrator"
	"servicebox.io/fsmcore/internal/pkg/logger"
	"servicebox.io/fsmcore/internal/pkg/worker"
	"servicebox.io/fsmcore/internal/projection"
	"servicebox.io/fsmcore/internal/schema"
	"servicebox.io/fsmcore/internal/store"
	"servicebox.io/fsmcore/internal/validator"
)

// Application holds every composed dependency the running process needs,
// plus the HTTP router built on top of them.
type Application struct {
	Config       *config.Config
	Router       *gin.Engine
	DB           *pgxpool.Pool
	Pools        *worker.Pools
	Orchestrator *orchestrator.Orchestrator
	KPIScheduler *kpi.Scheduler
}

// Bootstrap initializes every dependency in order: storage, the domain
// packages, the worker pools, the HTTP router. Nothing is started yet —
// call Start to begin running the KPI schedule.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	pool, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := store.Migrate(cfg.Database.DSN()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	reg, err := schema.NewRegistry()
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("load schema registry: %w", err)
	}

	gate := catalog.NewGate(pool)
	applier := projection.NewApplier()

	newValidator := func(tx pgx.Tx) orchestrator.Validator {
		reader := projection.NewReader(tx)
		return validator.New(reg, reader, reader, gate.WithTx(tx), time.Now)
	}
	hooks := domain.NewHookRegistry()
	hooks.Register(domain.EventSLABreached, func(_ context.Context, envelope domain.Envelope) error {
		logger.Warn("work order breached SLA",
			zap.String("work_order_id", envelope.EntityID),
			zap.String("event_id", envelope.EventID),
		)
		return nil
	})
	orch := orchestrator.New(pool, newValidator, applier, hooks)

	poolCfg := worker.PoolConfig{
		GeneralPoolSize:   cfg.Worker.GeneralPoolSize,
		IngestionPoolSize: cfg.Worker.IngestionPoolSize,
	}
	pools, err := worker.NewPools(ctx, poolCfg)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init worker pools: %w", err)
	}

	rebuilder := kpi.New(pool)
	scheduler, err := kpi.NewScheduler(rebuilder, cfg.KPI.RebuildCron, nil)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init kpi scheduler: %w", err)
	}

	application := &Application{
		Config:       cfg,
		DB:           pool,
		Pools:        pools,
		Orchestrator: orch,
		KPIScheduler: scheduler,
	}
	application.Router = newRouter(cfg, application)
	return application, nil
}

// Start begins background services: the KPI cron schedule. The HTTP
// listener itself is started by cmd/server, which owns signal handling.
func (a *Application) Start(ctx context.Context) error {
	a.KPIScheduler.Start()
	return nil
}

// Shutdown releases every dependency Bootstrap acquired, in reverse order.
func (a *Application) Shutdown() {
	a.KPIScheduler.Stop()
	a.Pools.Shutdown()
	a.DB.Close()
}
