package services

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Locker guards a job so that concurrent triggers (several replicas, a
// retried cron call) run it once at a time.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

func NewRedisLocker(client *redis.Client, logger *zap.Logger) *RedisLocker {
	return &RedisLocker{client: client, prefix: "sicet:lock:", logger: logger.Named("locker")}
}

// OpenRedis parses a redis:// URL and pings the server.
func OpenRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	fullKey := l.prefix + key
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{fullKey}, token).Err(); err != nil && err != redis.Nil {
			l.logger.Warn("lock release failed", zap.String("key", fullKey), zap.Error(err))
		}
	}
	return release, true, nil
}

// LocalLocker serializes runs inside a single process.
type LocalLocker struct {
	slots chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(chan struct{}, 1)}
}

func (l *LocalLocker) Acquire(_ context.Context, _ string, _ time.Duration) (func(), bool, error) {
	select {
	case l.slots <- struct{}{}:
		return func() { <-l.slots }, true, nil
	default:
		return nil, false, nil
	}
}
