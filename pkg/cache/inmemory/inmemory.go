package inmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/moviepilot/mpagent/pkg/cache"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Store is a process local TTL cache. Expired entries are dropped lazily on
// access.
type Store struct {
	mu      sync.RWMutex
	regions map[string]map[string]entry
	now     func() time.Time
}

func New() *Store {
	return &Store{
		regions: make(map[string]map[string]entry),
		now:     time.Now,
	}
}

// NewWithClock is used by tests that need to move time forward
func NewWithClock(now func() time.Time) *Store {
	store := New()
	store.now = now

	return store
}

func (s *Store) Get(ctx context.Context, key, region string) ([]byte, error) {
	s.mu.RLock()
	e, ok := s.regions[cache.RegionKey(region)][key]
	s.mu.RUnlock()

	if !ok {
		return nil, cache.ErrNotFound
	}

	if cache.Expired(e.expiresAt, s.now()) {
		s.mu.Lock()
		delete(s.regions[cache.RegionKey(region)], key)
		s.mu.Unlock()

		return nil, cache.ErrNotFound
	}

	return append([]byte(nil), e.value...), nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration, region string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	regionKey := cache.RegionKey(region)
	if _, ok := s.regions[regionKey]; !ok {
		s.regions[regionKey] = make(map[string]entry)
	}

	s.regions[regionKey][key] = entry{
		value:     append([]byte(nil), value...),
		expiresAt: cache.ExpiresAt(s.now(), ttl),
	}

	return nil
}

func (s *Store) Delete(ctx context.Context, key, region string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.regions[cache.RegionKey(region)], key)

	return nil
}

func (s *Store) Items(ctx context.Context, region string) ([]cache.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entries := s.regions[cache.RegionKey(region)]

	items := make([]cache.Item, 0, len(entries))
	for key, e := range entries {
		if cache.Expired(e.expiresAt, now) {
			delete(entries, key)
			continue
		}

		items = append(items, cache.Item{
			Key:       key,
			Value:     append([]byte(nil), e.value...),
			ExpiresAt: e.expiresAt,
		})
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Key < items[j].Key
	})

	return items, nil
}

func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.regions = make(map[string]map[string]entry)

	return nil
}
