package main

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/hookrelay/internal/breaker"
	"github.com/smallbiznis/hookrelay/internal/clock"
	"github.com/smallbiznis/hookrelay/internal/config"
	"github.com/smallbiznis/hookrelay/internal/event"
	"github.com/smallbiznis/hookrelay/internal/gateway"
	"github.com/smallbiznis/hookrelay/internal/logger"
	"github.com/smallbiznis/hookrelay/internal/migration"
	"github.com/smallbiznis/hookrelay/internal/queue"
	"github.com/smallbiznis/hookrelay/internal/records"
	"github.com/smallbiznis/hookrelay/internal/router"
	"github.com/smallbiznis/hookrelay/internal/server"
	"github.com/smallbiznis/hookrelay/internal/session"
	"github.com/smallbiznis/hookrelay/internal/shutdown"
	"github.com/smallbiznis/hookrelay/pkg/db"
	"github.com/smallbiznis/hookrelay/pkg/redisconn"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		clock.Module,
		db.Module,
		redisconn.Module,
		migration.Module,

		// Pipeline
		breaker.Module,
		queue.Module,
		gateway.Module,
		records.Module,
		router.Module,
		session.Module,
		event.Module,
		shutdown.Module,
		server.Module,

		fx.Invoke(runPipeline),
	)
	app.Run()
}

type pipelineParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Pool      *queue.Pool
	Queue     *queue.Queue
	Orch      *shutdown.Orchestrator
	Redis     *redis.Client
	DB        *gorm.DB
	Log       *zap.Logger
}

// runPipeline starts the workers and registers the drain sequence: ingress
// first, then the record store, then workers, then the redis connection.
func runPipeline(p pipelineParams) error {
	if err := p.Orch.Register("record.store", shutdown.PriorityStore, 0, func(ctx context.Context) error {
		sqlDB, err := p.DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}); err != nil {
		return err
	}
	if err := p.Orch.Register("queue.workers", shutdown.PriorityWorkers, 0, p.Pool.Stop); err != nil {
		return err
	}
	if err := p.Orch.Register("redis.connection", shutdown.PriorityRedis, 0, func(ctx context.Context) error {
		return p.Redis.Close()
	}); err != nil {
		return err
	}

	deadLetters := p.Log.Named("deadletter")
	go func() {
		for fj := range p.Queue.Failures() {
			deadLetters.Error("job exhausted retries",
				zap.String("job_id", fj.ID),
				zap.String("event_id", fj.EventID),
				zap.String("event_type", fj.EventType),
				zap.String("error", fj.Error),
			)
		}
	}()

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			p.Pool.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			return p.Orch.Shutdown()
		},
	})
	return nil
}
