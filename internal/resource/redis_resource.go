package resource

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"

	"outreach-service/pkg/assert"
	"outreach-service/pkg/config"
	"outreach-service/pkg/manager"
	"outreach-service/pkg/redisclient"
)

var (
	redisResourceOnce sync.Once
	redisSingleton    *RedisResource
)

// RedisResource manages the lifecycle of the shared Redis client.
type RedisResource struct {
	client *redisclient.Client
}

// DefaultRedisResource returns the global Redis resource instance.
func DefaultRedisResource() *RedisResource {
	assert.NotCircular()
	redisResourceOnce.Do(func() {
		redisSingleton = &RedisResource{}
	})
	assert.NotNil(redisSingleton)
	return redisSingleton
}

// MustOpen establishes the Redis connection using global configuration.
func (r *RedisResource) MustOpen() {
	if r.client != nil {
		return
	}

	cfg := config.GetGlobalConfig()
	if cfg == nil {
		panic("global config not initialized")
	}

	client, err := redisclient.New(cfg.Redis)
	if err != nil {
		panic("failed to connect redis: " + err.Error())
	}

	r.client = client
}

// Close releases the pooled connections.
func (r *RedisResource) Close() {
	if r.client != nil {
		_ = r.client.Close()
		r.client = nil
	}
}

// Ping reports whether the shared client can reach Redis.
func (r *RedisResource) Ping(ctx context.Context) error {
	if r.client == nil {
		return errors.New("redis not opened")
	}
	return r.client.Raw().Ping(ctx).Err()
}

// Client exposes the raw go-redis client.
func (r *RedisResource) Client() *redis.Client {
	if r.client == nil {
		return nil
	}
	return r.client.Raw()
}

// Dial opens a fresh client with the configured options, used to rebuild a broken connection.
func (r *RedisResource) Dial(ctx context.Context) (*redis.Client, error) {
	cfg := config.GetGlobalConfig()
	if cfg == nil {
		return nil, errors.New("global config not initialized")
	}
	return redisclient.Dial(ctx, redisclient.Options(cfg.Redis))
}

// RedisResourcePlugin wires the resource into the manager.
type RedisResourcePlugin struct{}

// Name identifies the plugin slot.
func (p *RedisResourcePlugin) Name() string {
	return "redis"
}

// MustCreateResource returns the singleton Redis resource for registration.
func (p *RedisResourcePlugin) MustCreateResource() manager.Resource {
	return DefaultRedisResource()
}
