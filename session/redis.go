package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisOpTimeout = 2 * time.Second

// RedisStore keeps the flag in Redis so several dashboard processes share one
// session. Reads go to Redis; the last known value is used when it is down.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	logger *slog.Logger

	mu   sync.Mutex
	last bool
}

// NewRedisStore returns a store whose keys are prefix + key name.
func NewRedisStore(rdb redis.UniversalClient, prefix string, logger *slog.Logger) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix, logger: discardLogger(logger)}
}

func (s *RedisStore) key(name string) string { return s.prefix + name }

func (s *RedisStore) IsAuthenticated() bool {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.rdb.Get(ctx, s.key(KeyAuthenticated)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		s.last = false
	case err != nil:
		s.logger.Warn("failed to read session flag from redis", slog.Any("error", err))
	default:
		s.last = v == "true"
	}
	return s.last
}

func (s *RedisStore) SetAuthenticated() {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.last = true
	if err := s.rdb.Set(ctx, s.key(KeyAuthenticated), "true", 0).Err(); err != nil {
		s.logger.Warn("failed to persist session flag to redis", slog.Any("error", err))
	}
}

func (s *RedisStore) ClearAuthenticated() {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.last = false
	keys := []string{s.key(KeyAuthenticated), s.key(KeyCookies)}
	for _, k := range LegacyKeys {
		keys = append(keys, s.key(k))
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		s.logger.Warn("failed to clear session flag in redis", slog.Any("error", err))
	}
}

// LoadCookies returns the cookies shared through Redis.
func (s *RedisStore) LoadCookies() []*http.Cookie {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	m, err := s.rdb.HGetAll(ctx, s.key(KeyCookies)).Result()
	if err != nil {
		s.logger.Warn("failed to read session cookies from redis", slog.Any("error", err))
		return nil
	}
	return cookieList(m)
}

// SaveCookies replaces the shared cookies; an empty list removes them.
func (s *RedisStore) SaveCookies(cookies []*http.Cookie) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	key := s.key(KeyCookies)
	fields := make([]any, 0, 2*len(cookies))
	for name, value := range cookieMap(cookies) {
		fields = append(fields, name, value)
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(fields) > 0 {
			pipe.HSet(ctx, key, fields...)
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("failed to persist session cookies to redis", slog.Any("error", err))
	}
}
