package repo

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/abdusco/redirects/internal/redirect"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisOptions stores named blobs as hashes with "value" and "version"
// fields. Writes use WATCH/MULTI so a concurrent change aborts the save.
type RedisOptions struct {
	client *redis.Client
	prefix string
}

func NewRedisOptions(client *redis.Client, prefix string) *RedisOptions {
	return &RedisOptions{client: client, prefix: prefix}
}

func (r *RedisOptions) key(name string) string {
	return r.prefix + name
}

func (r *RedisOptions) Load(ctx context.Context, name string) ([]byte, int64, error) {
	values, err := r.client.HMGet(ctx, r.key(name), "value", "version").Result()
	if err != nil {
		log.Error().Err(err).Str("option", name).Msg("failed to load option from redis")
		return nil, 0, err
	}
	return decodeHash(values)
}

func (r *RedisOptions) Save(ctx context.Context, name string, value []byte, version int64) error {
	key := r.key(name)

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		values, err := tx.HMGet(ctx, key, "value", "version").Result()
		if err != nil {
			return err
		}
		_, current, err := decodeHash(values)
		if err != nil {
			return err
		}
		if current != version {
			return redirect.ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "value", value, "version", version+1)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return redirect.ErrVersionConflict
	}
	if err != nil && !errors.Is(err, redirect.ErrVersionConflict) {
		log.Error().Err(err).Str("option", name).Msg("failed to save option to redis")
	}
	return err
}

func decodeHash(values []any) ([]byte, int64, error) {
	if len(values) != 2 || values[0] == nil {
		return nil, 0, nil
	}
	value, _ := values[0].(string)
	raw, _ := values[1].(string)

	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid option version %q: %w", raw, err)
	}
	return []byte(value), version, nil
}

func (r *RedisOptions) Slot(name string) redirect.Slot {
	return &redisSlot{repo: r, name: name}
}

type redisSlot struct {
	repo *RedisOptions
	name string
}

func (s *redisSlot) Load(ctx context.Context) ([]byte, int64, error) {
	return s.repo.Load(ctx, s.name)
}

func (s *redisSlot) Save(ctx context.Context, value []byte, version int64) error {
	return s.repo.Save(ctx, s.name, value, version)
}
