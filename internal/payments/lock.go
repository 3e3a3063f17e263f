package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrPaymentInFlight means the wallet already has a submission awaiting confirmation.
var ErrPaymentInFlight = errors.New("a payment from this wallet is already in flight")

const lockPrefix = "walletcore:payment-lock:"

// Locker serializes submissions per signing address. Acquire fails with
// ErrPaymentInFlight instead of waiting.
type Locker interface {
	Acquire(ctx context.Context, address string, ttl time.Duration) (release func(), err error)
}

// MemoryLocker is a process-local Locker.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemoryLocker returns an empty process-local locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

func (l *MemoryLocker) Acquire(_ context.Context, address string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[address]; busy {
		return nil, ErrPaymentInFlight
	}
	l.held[address] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, address)
			l.mu.Unlock()
		})
	}, nil
}

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker shares the per-wallet lock between processes. The TTL bounds
// how long a crashed holder can block the wallet.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker builds a redis-backed locker.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Acquire(ctx context.Context, address string, ttl time.Duration) (func(), error) {
	key := lockPrefix + address
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire payment lock: %w", err)
	}
	if !ok {
		return nil, ErrPaymentInFlight
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			releaseScript.Run(releaseCtx, l.client, []string{key}, token) // best effort; the TTL expires it otherwise
		})
	}, nil
}
