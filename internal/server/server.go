package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/hookrelay/internal/breaker"
	"github.com/smallbiznis/hookrelay/internal/config"
	eventservice "github.com/smallbiznis/hookrelay/internal/event/service"
	"github.com/smallbiznis/hookrelay/internal/queue"
	"github.com/smallbiznis/hookrelay/internal/session"
	"github.com/smallbiznis/hookrelay/internal/shutdown"
)

func NewEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Server struct {
	engine   *gin.Engine
	cfg      config.Config
	log      *zap.Logger
	eventSvc *eventservice.Service
	queue    *queue.Queue
	sessions *session.Store
	breakers *breaker.Registry
	shutdown *shutdown.Orchestrator
}

type Params struct {
	fx.In

	Engine    *gin.Engine
	Config    config.Config
	Log       *zap.Logger
	EventSvc  *eventservice.Service
	Queue     *queue.Queue
	Sessions  *session.Store
	Breakers  *breaker.Registry
	Shutdown  *shutdown.Orchestrator
}

func NewServer(p Params) *Server {
	s := &Server{
		engine:   p.Engine,
		cfg:      p.Config,
		log:      p.Log.Named("server"),
		eventSvc: p.EventSvc,
		queue:    p.Queue,
		sessions: p.Sessions,
		breakers: p.Breakers,
		shutdown: p.Shutdown,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	webhooks := s.engine.Group("/webhooks", s.DrainingMiddleware())
	webhooks.POST("/gateway", s.HandleWebhook)

	admin := s.engine.Group("/admin", s.AdminKeyRequired())
	admin.GET("/queue/stats", s.QueueStats)
	admin.GET("/queue/failed", s.ListFailedJobs)
	admin.DELETE("/queue/failed", s.PurgeFailedJobs)
	admin.DELETE("/queue/completed", s.PurgeCompletedJobs)
	admin.GET("/breakers", s.BreakerSnapshots)
	admin.POST("/sessions/invalidate", s.InvalidateAccountSessions)
	admin.POST("/events/:event_id/replay", s.ReplayEvent)
	admin.POST("/events/replay_unprocessed", s.ReplayUnprocessed)
}

// run starts the listener and hands its teardown to the orchestrator so the
// ingress stops before the pipeline behind it drains.
func run(lc fx.Lifecycle, s *Server) {
	srv := &http.Server{
		Addr:    s.cfg.HTTPAddr,
		Handler: s.engine,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := s.shutdown.Register("http.listener", shutdown.PriorityIngress, 0, srv.Shutdown); err != nil {
				return err
			}
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					s.log.Fatal("http server failed", zap.Error(err))
				}
			}()
			s.log.Info("listening", zap.String("addr", s.cfg.HTTPAddr))
			return nil
		},
	})
}

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(run),
)
