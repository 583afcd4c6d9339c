package queue

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/hookrelay/internal/breaker"
	"github.com/smallbiznis/hookrelay/internal/clock"
	"github.com/smallbiznis/hookrelay/internal/config"
)

type Params struct {
	fx.In

	Redis    *redis.Client
	Breakers *breaker.Set
	Clock    clock.Clock
	Log      *zap.Logger
	Tunables config.Tunables
}

func provideQueue(p Params) *Queue {
	return New(p.Redis, p.Breakers.Redis, p.Clock, p.Log, p.Tunables.Queue)
}

type PoolParams struct {
	fx.In

	Queue   *Queue
	Handler Handler
	Log     *zap.Logger
}

func providePool(p PoolParams) *Pool {
	return NewPool(p.Queue, p.Handler, p.Log)
}

var Module = fx.Module("queue",
	fx.Provide(provideQueue),
	fx.Provide(providePool),
)
