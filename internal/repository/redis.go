package repository

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

const suppressedKeyPrefix = "notifier:token:suppressed:"

// RedisRepository remembers push tokens the provider reported as invalid so
// later sends can skip them.
type RedisRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRepository(client *redis.Client, ttl time.Duration) *RedisRepository {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisRepository{
		client: client,
		ttl:    ttl,
	}
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}

// FilterSuppressed drops suppressed tokens, keeping the input order. The
// lookups share one pipeline round trip.
func (r *RedisRepository) FilterSuppressed(ctx context.Context, tokens []string) ([]string, error) {
	if len(tokens) == 0 {
		return tokens, nil
	}
	cmds := make([]*redis.IntCmd, len(tokens))
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, token := range tokens {
			cmds[i] = pipe.Exists(ctx, suppressedKeyPrefix+token)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	active := make([]string, 0, len(tokens))
	for i, cmd := range cmds {
		if cmd.Val() == 0 {
			active = append(active, tokens[i])
		}
	}
	return active, nil
}

// SuppressToken marks a token invalid for the repository TTL.
func (r *RedisRepository) SuppressToken(ctx context.Context, token string) error {
	return r.client.SetEX(ctx, suppressedKeyPrefix+token, "1", r.ttl).Err()
}
