package gateway

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/hookrelay/internal/breaker"
	"github.com/smallbiznis/hookrelay/internal/clock"
	"github.com/smallbiznis/hookrelay/internal/config"
)

type Params struct {
	fx.In

	Config   config.Config
	Tunables config.Tunables
	Clock    clock.Clock
	Log      *zap.Logger
	Registry *breaker.Registry
}

func provideClient(p Params) Client {
	br := breaker.New(breaker.Settings{
		Name:             "gateway",
		FailureThreshold: p.Tunables.Breakers.Gateway.FailureThreshold,
		ResetTimeout:     p.Tunables.Breakers.Gateway.ResetTimeout,
		Expected:         []error{ErrNotFound},
	}, p.Clock, p.Log)
	p.Registry.Register(br)

	return Guard(NewHTTPClient(p.Config.GatewayBaseURL, p.Config.GatewayKeyID, p.Config.GatewayKeySecret, p.Log), br)
}

var Module = fx.Module("gateway",
	fx.Provide(provideClient),
)
