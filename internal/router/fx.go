package router

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/hookrelay/internal/breaker"
	"github.com/smallbiznis/hookrelay/internal/clock"
	"github.com/smallbiznis/hookrelay/internal/gateway"
	recdomain "github.com/smallbiznis/hookrelay/internal/records/domain"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Records  recdomain.Records
	Gateway  gateway.Client
	Sessions SessionInvalidator
	Breakers *breaker.Set
	Clock    clock.Clock
	Log      *zap.Logger
}

func provideRouter(p Params) *Router {
	return New(p.DB, p.Records, p.Gateway, p.Sessions, p.Breakers.Database, p.Clock, p.Log)
}

var Module = fx.Module("router",
	fx.Provide(provideRouter),
)
