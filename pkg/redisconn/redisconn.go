package redisconn

import (
	"context"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/hookrelay/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// New builds the shared redis client backing the job queue and the
// session/token store.
func New(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     strings.TrimSpace(cfg.RedisAddr),
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})
}

func registerHooks(lc fx.Lifecycle, client *redis.Client, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			_ = ctx
			log.Info("closing redis connection")
			if err := client.Close(); err != nil && err != redis.ErrClosed {
				return err
			}
			return nil
		},
	})
}

// Module provides the redis client.
var Module = fx.Module("redis",
	fx.Provide(New),
	fx.Invoke(registerHooks),
)
