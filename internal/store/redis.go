package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/capitalize-ai/call-negotiator/internal/model"
)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	URL          string
	TTL          time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	DialTimeout  time.Duration
}

// NewRedisClient parses the URL and pings the server.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

// RedisStore keeps session envelopes in Redis so several replicas can
// share them.
type RedisStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewRedisStore wraps a Redis client. A zero ttl keeps keys forever.
func NewRedisStore(rdb redis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

const activeKey = "session:active"

// saveScript performs a compare-and-set on the revision field so an older
// flush cannot clobber a newer one.
var saveScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'revision')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'revision', ARGV[1], 'envelope', ARGV[2])
if tonumber(ARGV[3]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

func (s *RedisStore) Save(ctx context.Context, env model.Envelope) error {
	raw, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}
	key := sessionKey(env.SessionID)
	if err := saveScript.Run(ctx, s.rdb, []string{key}, env.Revision, raw, s.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("saving session %s: %w", env.SessionID, err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, sessionID string) (model.Envelope, error) {
	raw, err := s.rdb.HGet(ctx, sessionKey(sessionID), "envelope").Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Envelope{}, ErrNotFound
	}
	if err != nil {
		return model.Envelope{}, fmt.Errorf("loading session %s: %w", sessionID, err)
	}
	return DecodeEnvelope(raw)
}

func (s *RedisStore) SetActive(ctx context.Context, sessionID string) error {
	if err := s.rdb.Set(ctx, activeKey, sessionID, s.ttl).Err(); err != nil {
		return fmt.Errorf("setting active session: %w", err)
	}
	return nil
}

func (s *RedisStore) Active(ctx context.Context) (string, error) {
	id, err := s.rdb.Get(ctx, activeKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading active session: %w", err)
	}
	return id, nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.rdb.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("deleting session %s: %w", sessionID, err)
	}
	return nil
}

// Close closes the client when the store owns one.
func (s *RedisStore) Close() error {
	if c, ok := s.rdb.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
