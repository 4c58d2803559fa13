package cache

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fathima-sithara/conversation-service/internal/config"
)

// NewClient returns a connected client, retrying the initial ping with
// exponential backoff until maxElapsed.
func NewClient(ctx context.Context, cfg config.RedisConfig, maxElapsed time.Duration, log *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxElapsed
	ping := func() error {
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		return rdb.Ping(pctx).Err()
	}
	notify := func(err error, next time.Duration) {
		log.Warn("redis ping failed, retrying", zap.Error(err), zap.Duration("next", next))
	}
	if err := backoff.RetryNotify(ping, backoff.WithContext(b, ctx), notify); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}
