package offline

import (
	"context"
	"net/http"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Response is a stored copy of an origin response.
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Cache is one named generation of stored responses.
type Cache interface {
	// Match returns the response stored under key, if any.
	Match(ctx context.Context, key string) (Response, bool, error)
	// Put stores resp under key, replacing any previous entry.
	Put(ctx context.Context, key string, resp Response) error
}

// CacheStorage holds the named caches.
type CacheStorage interface {
	// Open returns the named cache, creating it if it does not exist.
	Open(ctx context.Context, name string) (Cache, error)
	// Keys lists the names of all caches.
	Keys(ctx context.Context) ([]string, error)
	// Delete removes the named cache and all its entries. It reports whether
	// the cache existed.
	Delete(ctx context.Context, name string) (bool, error)
}

// MemoryStorage is a CacheStorage kept in process memory.
type MemoryStorage struct {
	clock clockwork.Clock

	mu     sync.Mutex
	caches map[string]*memoryCache
}

// NewMemoryStorage creates an empty MemoryStorage. A nil clock uses real time.
func NewMemoryStorage(clock clockwork.Clock) *MemoryStorage {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStorage{
		clock:  clock,
		caches: make(map[string]*memoryCache),
	}
}

func (s *MemoryStorage) Open(_ context.Context, name string) (Cache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.caches[name]
	if !ok {
		c = &memoryCache{clock: s.clock, entries: make(map[string]Response)}
		s.caches[name] = c
	}
	return c, nil
}

func (s *MemoryStorage) Keys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.caches))
	for name := range s.caches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.caches[name]
	delete(s.caches, name)
	return ok, nil
}

type memoryCache struct {
	clock clockwork.Clock

	mu      sync.RWMutex
	entries map[string]Response
}

func (c *memoryCache) Match(_ context.Context, key string) (Response, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	resp, ok := c.entries[key]
	if !ok {
		return Response{}, false, nil
	}
	return resp.clone(), true, nil
}

func (c *memoryCache) Put(_ context.Context, key string, resp Response) error {
	stored := resp.clone()
	stored.StoredAt = c.clock.Now().UTC()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = stored
	return nil
}

func (r Response) clone() Response {
	return Response{
		Status:   r.Status,
		Header:   r.Header.Clone(),
		Body:     slices.Clone(r.Body),
		StoredAt: r.StoredAt,
	}
}
