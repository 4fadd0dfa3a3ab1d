package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisScanBatch      = 200
	redisDefaultTimeout = 5 * time.Second
	redisDefaultPrefix  = "bfast"
)

// RedisConfig configures a Redis cache backend.
type RedisConfig struct {
	URL              string
	MaxConns         int
	OperationTimeout time.Duration
	Prefix           string
}

// RedisStore keeps entries under "<prefix>:<key>" in a shared Redis, so
// several processes of one application see each other's cached reads.
type RedisStore struct {
	client    redis.UniversalClient
	opTimeout time.Duration
	namespace string
}

func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("redis cache url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.MaxConns > 0 {
		opts.PoolSize = cfg.MaxConns
	}
	s := &RedisStore{
		client:    redis.NewClient(opts),
		opTimeout: cfg.OperationTimeout,
		namespace: strings.TrimSpace(cfg.Prefix),
	}
	if s.opTimeout <= 0 {
		s.opTimeout = redisDefaultTimeout
	}
	if s.namespace == "" {
		s.namespace = redisDefaultPrefix
	}
	return s, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	raw, err := s.client.Get(ctx, s.nsKey(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, ErrCacheMiss
	case err != nil:
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return raw, nil
}

// Set writes value; ttl <= 0 means the entry never expires (KEEPTTL is not used).
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	if err := s.client.Set(ctx, s.nsKey(key), value, max(ttl, 0)).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return s.client.Unlink(ctx, s.nsKey(key)).Err()
}

// DeletePrefix walks matching keys with SCAN and unlinks them in batches.
// Keys written concurrently with the walk may survive.
func (s *RedisStore) DeletePrefix(ctx context.Context, prefix string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	pattern := s.nsKey(globQuote(prefix)) + "*"
	iter := s.client.Scan(ctx, 0, pattern, redisScanBatch).Iterator()
	batch := make([]string, 0, redisScanBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := s.client.Unlink(ctx, batch...).Err()
		batch = batch[:0]
		return err
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == redisScanBatch {
			if err := flush(); err != nil {
				return fmt.Errorf("redis unlink: %w", err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan %s: %w", pattern, err)
	}
	if err := flush(); err != nil {
		return fmt.Errorf("redis unlink: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) nsKey(key string) string {
	return s.namespace + ":" + key
}

// globQuote escapes the metacharacters of a Redis MATCH pattern.
var globQuote = strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`).Replace
