package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// Redis is a Cache backed by a shared redis instance, so replicas of the registry share one auth
// decision cache. Redis failures degrade to cache misses.
type Redis struct {
	client redis.UniversalClient
	log    *logrus.Entry
}

func NewRedis(client redis.UniversalClient, log *logrus.Entry) *Redis {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Redis{client: client, log: log}
}

func (c *Redis) Get(ctx context.Context, key string) (string, bool) {
	v, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.WithError(err).Warn("redis cache read failed")
		}
		return "", false
	}
	return v, true
}

func (c *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.log.WithError(err).Warn("redis cache write failed")
	}
}
