package shutdown

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/hookrelay/internal/config"
)

// Teardown priorities. Higher runs first: stop admitting, flush the durable
// store path, drain workers, then let go of redis.
const (
	PriorityIngress = 40
	PriorityStore   = 30
	PriorityWorkers = 20
	PriorityRedis   = 10
)

type Params struct {
	fx.In

	Tunables config.Tunables
	Log      *zap.Logger
}

func provideOrchestrator(p Params) *Orchestrator {
	return New(p.Log, p.Tunables.Shutdown)
}

var Module = fx.Module("shutdown",
	fx.Provide(provideOrchestrator),
)
