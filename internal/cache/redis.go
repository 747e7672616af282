// Package cache mirrors the in-memory online set to Redis so other services
// can read it.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisPresence keeps the online user ids in a Redis set.
type RedisPresence struct {
	client *redis.Client
	key    string
}

// NewRedisPresence connects to url and checks the connection.
func NewRedisPresence(url, key string) (*RedisPresence, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisPresence{client: c, key: key}, nil
}

// Replace swaps the stored set for ids atomically.
func (r *RedisPresence) Replace(ctx context.Context, ids []int64) error {
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = strconv.FormatInt(id, 10)
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key)
		if len(members) > 0 {
			pipe.SAdd(ctx, r.key, members...)
		}
		return nil
	})
	return err
}

// Members returns the stored ids.
func (r *RedisPresence) Members(ctx context.Context) ([]int64, error) {
	raw, err := r.client.SMembers(ctx, r.key).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(raw))
	for _, s := range raw {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *RedisPresence) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close clears the set and closes the client.
func (r *RedisPresence) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = r.client.Del(ctx, r.key).Err()
	return r.client.Close()
}
