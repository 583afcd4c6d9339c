package breaker

import (
	"github.com/smallbiznis/hookrelay/internal/clock"
	"github.com/smallbiznis/hookrelay/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Set bundles the breakers for the shared infrastructure dependencies. The
// gateway client builds and registers its own instance since its expected
// error list lives in that package.
type Set struct {
	Database *Breaker
	Redis    *Breaker
}

type Params struct {
	fx.In

	Tunables config.Tunables
	Clock    clock.Clock
	Log      *zap.Logger
	Registry *Registry
}

func NewSet(p Params) *Set {
	dbBreaker := New(Settings{
		Name:             "database",
		FailureThreshold: p.Tunables.Breakers.Database.FailureThreshold,
		ResetTimeout:     p.Tunables.Breakers.Database.ResetTimeout,
		Expected:         []error{gorm.ErrRecordNotFound},
	}, p.Clock, p.Log)

	redisBreaker := New(Settings{
		Name:             "redis",
		FailureThreshold: p.Tunables.Breakers.Redis.FailureThreshold,
		ResetTimeout:     p.Tunables.Breakers.Redis.ResetTimeout,
	}, p.Clock, p.Log)

	p.Registry.Register(dbBreaker)
	p.Registry.Register(redisBreaker)

	return &Set{Database: dbBreaker, Redis: redisBreaker}
}

// Module provides the breaker registry and the shared breaker set.
var Module = fx.Module("breaker",
	fx.Provide(NewRegistry),
	fx.Provide(NewSet),
)
