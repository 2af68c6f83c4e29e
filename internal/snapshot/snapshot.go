package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/queue-router/internal/domain"
)

// ErrNotFound is returned for unknown or expired lists.
var ErrNotFound = errors.New("candidate list not found")

// Store keeps presented candidate lists so a position chosen by the
// customer resolves against exactly what was shown.
type Store interface {
	Save(ctx context.Context, list *domain.CandidateList, ttl time.Duration) error
	Get(ctx context.Context, sessionID, listID string) (*domain.CandidateList, error)
	Latest(ctx context.Context, sessionID string) (*domain.CandidateList, error)
}

const keyPrefix = "snapshot:session:"

func listKey(sessionID, listID string) string {
	return fmt.Sprintf("%s%s:list:%s", keyPrefix, sessionID, listID)
}

func latestKey(sessionID string) string {
	return keyPrefix + sessionID + ":latest"
}

// RedisStore shares snapshots across instances.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Save(ctx context.Context, list *domain.CandidateList, ttl time.Duration) error {
	payload, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode candidate list: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, listKey(list.SessionID, list.ListID), payload, ttl)
		pipe.Set(ctx, latestKey(list.SessionID), list.ListID, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store candidate list: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, sessionID, listID string) (*domain.CandidateList, error) {
	payload, err := s.client.Get(ctx, listKey(sessionID, listID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load candidate list: %w", err)
	}
	var list domain.CandidateList
	if err := json.Unmarshal(payload, &list); err != nil {
		return nil, fmt.Errorf("decode candidate list: %w", err)
	}
	return &list, nil
}

func (s *RedisStore) Latest(ctx context.Context, sessionID string) (*domain.CandidateList, error) {
	listID, err := s.client.Get(ctx, latestKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load latest candidate list: %w", err)
	}
	return s.Get(ctx, sessionID, listID)
}

type memoryEntry struct {
	list      domain.CandidateList
	expiresAt time.Time
}

// MemoryStore keeps snapshots in process; suitable for a single instance.
type MemoryStore struct {
	mu     sync.Mutex
	lists  map[string]memoryEntry
	latest map[string]string
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lists:  make(map[string]memoryEntry),
		latest: make(map[string]string),
		now:    time.Now,
	}
}

// WithClock overrides the expiry clock.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Save(_ context.Context, list *domain.CandidateList, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *list
	copied.Entries = append([]domain.CandidateEntry(nil), list.Entries...)
	s.lists[listKey(list.SessionID, list.ListID)] = memoryEntry{list: copied, expiresAt: s.now().Add(ttl)}
	s.latest[list.SessionID] = list.ListID
	return nil
}

func (s *MemoryStore) Get(_ context.Context, sessionID, listID string) (*domain.CandidateList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(sessionID, listID)
}

func (s *MemoryStore) Latest(_ context.Context, sessionID string) (*domain.CandidateList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	listID, ok := s.latest[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.getLocked(sessionID, listID)
}

func (s *MemoryStore) getLocked(sessionID, listID string) (*domain.CandidateList, error) {
	key := listKey(sessionID, listID)
	entry, ok := s.lists[key]
	if !ok {
		return nil, ErrNotFound
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.lists, key)
		return nil, ErrNotFound
	}
	list := entry.list
	list.Entries = append([]domain.CandidateEntry(nil), entry.list.Entries...)
	return &list, nil
}
