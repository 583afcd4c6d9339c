package session

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/hookrelay/internal/breaker"
	"github.com/smallbiznis/hookrelay/internal/clock"
	"github.com/smallbiznis/hookrelay/internal/config"
	"github.com/smallbiznis/hookrelay/internal/router"
)

type Params struct {
	fx.In

	Redis    *redis.Client
	Breakers *breaker.Set
	Clock    clock.Clock
	Log      *zap.Logger
	Config   config.Config
}

func provideStore(p Params) *Store {
	return NewStore(p.Redis, p.Breakers.Redis, p.Clock, p.Log, p.Config.SessionTTL)
}

func provideInvalidator(s *Store) router.SessionInvalidator {
	return s
}

// startTTLSweep re-arms lost expirations hourly for the life of the app.
func startTTLSweep(lc fx.Lifecycle, s *Store, log *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				ticker := time.NewTicker(time.Hour)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if _, err := s.NormalizeTTLs(ctx); err != nil {
							log.Named("session").Warn("ttl sweep failed", zap.Error(err))
						}
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			<-done
			return nil
		},
	})
}

var Module = fx.Module("session",
	fx.Provide(provideStore),
	fx.Provide(provideInvalidator),
	fx.Invoke(startTTLSweep),
)
