package presence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/queue-router/internal/repository"
)

// Oracle answers whether an operator is currently online. Implementations
// may be slow or fail; callers treat any error as offline.
type Oracle interface {
	IsOnline(ctx context.Context, operatorID string) (bool, error)
}

// KeyPrefix namespaces presence keys written by the presence producer.
const KeyPrefix = "presence:operator:"

// RedisOracle reads presence keys kept alive with a TTL by an external heartbeat.
type RedisOracle struct {
	client *redis.Client
}

func NewRedisOracle(client *redis.Client) *RedisOracle {
	return &RedisOracle{client: client}
}

func (o *RedisOracle) IsOnline(ctx context.Context, operatorID string) (bool, error) {
	n, err := o.client.Exists(ctx, KeyPrefix+operatorID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkOnline writes a presence key. Production heartbeats come from the
// chat platform; this is used by local tooling.
func (o *RedisOracle) MarkOnline(ctx context.Context, operatorID string, ttl time.Duration) error {
	return o.client.Set(ctx, KeyPrefix+operatorID, time.Now().UTC().Format(time.RFC3339), ttl).Err()
}

// DirectoryOracle trusts the online flag stored on the operator record.
type DirectoryOracle struct {
	operators repository.OperatorRepository
}

func NewDirectoryOracle(operators repository.OperatorRepository) *DirectoryOracle {
	return &DirectoryOracle{operators: operators}
}

func (o *DirectoryOracle) IsOnline(ctx context.Context, operatorID string) (bool, error) {
	op, err := o.operators.GetByID(ctx, operatorID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return op.Online, nil
}

// StaticOracle is a settable in-memory oracle.
type StaticOracle struct {
	mu     sync.RWMutex
	online map[string]bool
	errs   map[string]error
	delay  time.Duration
}

func NewStaticOracle(online ...string) *StaticOracle {
	o := &StaticOracle{online: make(map[string]bool), errs: make(map[string]error)}
	for _, id := range online {
		o.online[id] = true
	}
	return o
}

func (o *StaticOracle) Set(operatorID string, online bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.online[operatorID] = online
}

// Fail makes lookups for operatorID return err.
func (o *StaticOracle) Fail(operatorID string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs[operatorID] = err
}

// SetDelay makes every lookup wait d or until the context ends.
func (o *StaticOracle) SetDelay(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.delay = d
}

func (o *StaticOracle) IsOnline(ctx context.Context, operatorID string) (bool, error) {
	o.mu.RLock()
	delay, err, online := o.delay, o.errs[operatorID], o.online[operatorID]
	o.mu.RUnlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
	}
	if err != nil {
		return false, err
	}
	return online, nil
}
