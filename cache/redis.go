package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DefaultRedisPrefix namespaces every key written by RedisStorage.
const DefaultRedisPrefix = "always-offline:"

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g. "redis://localhost:6379/0").
	URL string
	// Prefix for all keys, defaults to DefaultRedisPrefix.
	Prefix string
}

// RedisStorage keeps cache names in a sorted set (scored by creation time)
// and the entries of each cache in a hash.
type RedisStorage struct {
	client *redis.Client
	prefix string
}

// NewRedisStorage connects to Redis and verifies the connection.
func NewRedisStorage(cfg RedisConfig) (*RedisStorage, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info().Str("addr", opts.Addr).Msg("Redis storage connected")
	return NewRedisStorageFromClient(client, cfg.Prefix), nil
}

// NewRedisStorageFromClient wraps an existing client.
func NewRedisStorageFromClient(client *redis.Client, prefix string) *RedisStorage {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStorage{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisStorage) namesKey() string {
	return s.prefix + "caches"
}

func (s *RedisStorage) entriesKey(name string) string {
	return s.prefix + "cache:" + name
}

// register adds the cache name to the pipeline, keeping its original creation score.
func (s *RedisStorage) register(ctx context.Context, pipe redis.Pipeliner, name string) {
	pipe.ZAddNX(ctx, s.namesKey(), redis.Z{
		Score:  float64(time.Now().UnixNano()),
		Member: name,
	})
}

func (s *RedisStorage) Open(ctx context.Context, name string) (Cache, error) {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.register(ctx, pipe, name)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", name, err)
	}
	return &redisCache{s: s, name: name}, nil
}

func (s *RedisStorage) Lookup(ctx context.Context, name string) (Cache, bool, error) {
	ok, err := s.Has(ctx, name)
	if err != nil || !ok {
		return nil, false, err
	}
	return &redisCache{s: s, name: name}, true, nil
}

func (s *RedisStorage) Has(ctx context.Context, name string) (bool, error) {
	err := s.client.ZScore(ctx, s.namesKey(), name).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisStorage) Delete(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.ZRem(ctx, s.namesKey(), name)
		pipe.Del(ctx, s.entriesKey(name))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete cache %s: %w", name, err)
	}
	return removed.Val() > 0, nil
}

func (s *RedisStorage) Keys(ctx context.Context) ([]string, error) {
	return s.client.ZRange(ctx, s.namesKey(), 0, -1).Result()
}

func (s *RedisStorage) Match(ctx context.Context, key string) ([]byte, error) {
	names, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		bytes, err := s.client.HGet(ctx, s.entriesKey(name), key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return bytes, nil
	}
	return nil, nil
}

func (s *RedisStorage) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

type redisCache struct {
	s    *RedisStorage
	name string
}

func (c *redisCache) Name() string {
	return c.name
}

func (c *redisCache) Match(ctx context.Context, key string) ([]byte, error) {
	bytes, err := c.s.client.HGet(ctx, c.s.entriesKey(c.name), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return bytes, err
}

func (c *redisCache) Put(ctx context.Context, entry Entry) error {
	return c.PutAll(ctx, []Entry{entry})
}

// PutAll writes the entries in a single MULTI/EXEC transaction.
func (c *redisCache) PutAll(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(entries)*2)
	for _, e := range entries {
		values = append(values, e.Key, e.Bytes)
	}
	_, err := c.s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		c.s.register(ctx, pipe, c.name)
		pipe.HSet(ctx, c.s.entriesKey(c.name), values...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("write to cache %s: %w", c.name, err)
	}
	return nil
}

func (c *redisCache) Delete(ctx context.Context, key string) (bool, error) {
	n, err := c.s.client.HDel(ctx, c.s.entriesKey(c.name), key).Result()
	return n > 0, err
}

func (c *redisCache) Keys(ctx context.Context) ([]string, error) {
	keys, err := c.s.client.HKeys(ctx, c.s.entriesKey(c.name)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}
