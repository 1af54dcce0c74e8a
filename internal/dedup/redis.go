package dedup

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis is a cooldown backed by SetNX with TTL, shared across engine
// instances. On Redis failure it is permissive: the alert fires rather than
// being suppressed by an unavailable side channel.
type Redis struct {
	cli        *redis.Client
	log        *zap.SugaredLogger
	errorCount int
}

func NewRedis(addr string, log *zap.SugaredLogger) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{Addr: addr})
	if err := cli.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &Redis{cli: cli, log: log}, nil
}

func (r *Redis) Seen(key string, ttl time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ok, err := r.cli.SetNX(ctx, "cooldown:"+key, 1, ttl).Result()
	if err != nil {
		r.errorCount++
		if r.errorCount%100 == 1 {
			r.log.Warnw("redis cooldown error", "count", r.errorCount, "err", err)
		}
		return false
	}
	return !ok
}
