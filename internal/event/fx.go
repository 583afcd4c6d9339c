package event

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/hookrelay/internal/breaker"
	"github.com/smallbiznis/hookrelay/internal/clock"
	"github.com/smallbiznis/hookrelay/internal/config"
	"github.com/smallbiznis/hookrelay/internal/event/domain"
	"github.com/smallbiznis/hookrelay/internal/event/repository"
	"github.com/smallbiznis/hookrelay/internal/event/service"
	"github.com/smallbiznis/hookrelay/internal/queue"
	"github.com/smallbiznis/hookrelay/internal/router"
)

func newNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Repo     domain.Repository
	Queue    *queue.Queue
	Router   *router.Router
	Breakers *breaker.Set
	Clock    clock.Clock
	Log      *zap.Logger
	Node     *snowflake.Node
	Config   config.Config
}

func provideService(p Params) *service.Service {
	return service.New(p.DB, p.Repo, p.Queue, p.Router, p.Breakers.Database, p.Clock, p.Log, p.Node, p.Config.WebhookSecret)
}

func provideHandler(s *service.Service) queue.Handler {
	return s.HandleJob
}

var Module = fx.Module("event",
	fx.Provide(newNode),
	fx.Provide(repository.Provide),
	fx.Provide(provideService),
	fx.Provide(provideHandler),
)
