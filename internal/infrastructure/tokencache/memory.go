package tokencache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/accelfs/license-broker/internal/core/domain/license"
	"github.com/accelfs/license-broker/internal/core/ports"
)

type entry struct {
	token     *license.TokenResponse
	expiresAt time.Time
}

// loadFunc is the internal loader contract shared by the memory and
// composite caches. The bool reports whether the load reached the platform.
type loadFunc func(ctx context.Context) (*license.TokenResponse, bool, error)

type loadResult struct {
	token   *license.TokenResponse
	fetched bool
}

// Memory is an in-process token cache with a fixed insertion TTL. Expected
// cardinality is tiny (one entry per distinct product/version pair), so
// expired entries are evicted lazily on access instead of by a janitor.
type Memory struct {
	mu    sync.RWMutex
	items map[string]entry
	ttl   time.Duration
	sf    singleflight.Group
}

// NewMemory creates a memory cache whose entries live for ttl after insertion.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		items: make(map[string]entry),
		ttl:   ttl,
	}
}

// GetOrFetch implements ports.TokenCache.
func (m *Memory) GetOrFetch(ctx context.Context, key string, fetch ports.TokenFetchFunc) (*license.TokenResponse, bool, error) {
	return m.getOrLoad(ctx, key, func(ctx context.Context) (*license.TokenResponse, bool, error) {
		token, err := fetch(ctx)
		return token, err == nil, err
	})
}

// Invalidate implements ports.TokenCache.
func (m *Memory) Invalidate(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

// getOrLoad returns the live cached token for key, or collapses concurrent
// callers into a single execution of load and stores its result. The load
// runs with the context of the caller that won the flight; waiters share its
// result, including the fetched flag.
func (m *Memory) getOrLoad(ctx context.Context, key string, load loadFunc) (*license.TokenResponse, bool, error) {
	if token, ok := m.lookup(key); ok {
		cacheReadsTotal.WithLabelValues("memory", "hit").Inc()
		return token, false, nil
	}
	cacheReadsTotal.WithLabelValues("memory", "miss").Inc()

	v, err, _ := m.sf.Do(key, func() (interface{}, error) {
		// a waiter queued behind the flight may find the entry already stored
		if token, ok := m.lookup(key); ok {
			return loadResult{token: token}, nil
		}
		token, fetched, err := load(ctx)
		if err != nil {
			return nil, err
		}
		m.store(key, token)
		return loadResult{token: token, fetched: fetched}, nil
	})
	if err != nil {
		return nil, false, err
	}
	res := v.(loadResult)
	return res.token, res.fetched, nil
}

func (m *Memory) lookup(key string) (*license.TokenResponse, bool) {
	m.mu.RLock()
	e, found := m.items[key]
	m.mu.RUnlock()
	if !found {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		m.mu.Lock()
		// re-check under the write lock; the entry may have been replaced
		if e2, ok := m.items[key]; ok && time.Now().After(e2.expiresAt) {
			delete(m.items, key)
		}
		m.mu.Unlock()
		return nil, false
	}
	return e.token, true
}

func (m *Memory) store(key string, token *license.TokenResponse) {
	m.mu.Lock()
	m.items[key] = entry{token: token, expiresAt: time.Now().Add(m.ttl)}
	m.mu.Unlock()
}
