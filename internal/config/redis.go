package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisAllowList is an allow-list stored as a redis set of mints.
type RedisAllowList struct {
	client *redis.Client
	key    string
}

// Compile-time interface check.
var _ AllowListSource = (*RedisAllowList)(nil)

// NewRedisAllowList wraps client, storing members under key.
func NewRedisAllowList(client *redis.Client, key string) *RedisAllowList {
	return &RedisAllowList{client: client, key: key}
}

// DialRedisAllowList connects using cfg and verifies the server answers.
func DialRedisAllowList(ctx context.Context, cfg Redis) (*RedisAllowList, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	key := cfg.Key
	if key == "" {
		key = Default().Redis.Key
	}
	return NewRedisAllowList(client, key), nil
}

// Members returns the set members.
func (r *RedisAllowList) Members(ctx context.Context) ([]string, error) {
	members, err := r.client.SMembers(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers %s: %w", r.key, err)
	}
	return members, nil
}

// Add inserts mints into the set.
func (r *RedisAllowList) Add(ctx context.Context, mints ...string) error {
	if len(mints) == 0 {
		return nil
	}
	args := make([]interface{}, len(mints))
	for i, m := range mints {
		args[i] = m
	}
	if err := r.client.SAdd(ctx, r.key, args...).Err(); err != nil {
		return fmt.Errorf("sadd %s: %w", r.key, err)
	}
	return nil
}

// Remove deletes mints from the set.
func (r *RedisAllowList) Remove(ctx context.Context, mints ...string) error {
	if len(mints) == 0 {
		return nil
	}
	args := make([]interface{}, len(mints))
	for i, m := range mints {
		args[i] = m
	}
	if err := r.client.SRem(ctx, r.key, args...).Err(); err != nil {
		return fmt.Errorf("srem %s: %w", r.key, err)
	}
	return nil
}

// Replace atomically swaps the set contents for mints.
func (r *RedisAllowList) Replace(ctx context.Context, mints []string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key)
		if len(mints) > 0 {
			args := make([]interface{}, len(mints))
			for i, m := range mints {
				args[i] = m
			}
			pipe.SAdd(ctx, r.key, args...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace %s: %w", r.key, err)
	}
	return nil
}

// Close closes the redis client.
func (r *RedisAllowList) Close() error {
	return r.client.Close()
}
