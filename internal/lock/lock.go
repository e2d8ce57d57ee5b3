// Package lock provides short-lived mutual exclusion keyed by string.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var (
	ErrEmptyKey   = errors.New("lock key is empty")
	ErrInvalidTTL = errors.New("lock ttl must be positive")
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Locker acquires a lock and returns an ownership token. ok is false when
// somebody else holds the key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

var Module = fx.Module("lock",
	fx.Provide(New),
)

// New returns a Redis locker, or an in-process one when client is nil.
func New(client *redis.Client) Locker {
	if client == nil {
		return NewLocal()
	}
	return NewRedis(client)
}

type redisLocker struct {
	client *redis.Client
	script *redis.Script
}

func NewRedis(client *redis.Client) Locker {
	return &redisLocker{
		client: client,
		script: redis.NewScript(releaseScript),
	}
}

func (l *redisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if err := validate(key, ttl); err != nil {
		return "", false, err
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *redisLocker) Release(ctx context.Context, key, token string) error {
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}

type held struct {
	token     string
	expiresAt time.Time
}

type localLocker struct {
	mu   sync.Mutex
	held map[string]held
	now  func() time.Time
}

func NewLocal() Locker {
	return &localLocker{held: make(map[string]held), now: time.Now}
}

func (l *localLocker) TryLock(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	if err := validate(key, ttl); err != nil {
		return "", false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if current, ok := l.held[key]; ok && now.Before(current.expiresAt) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.held[key] = held{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

func (l *localLocker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if current, ok := l.held[key]; ok && current.token == token {
		delete(l.held, key)
	}
	return nil
}

func validate(key string, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return nil
}
