package tokencache_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/accelfs/license-broker/internal/core/domain/license"
	"github.com/accelfs/license-broker/internal/infrastructure/tokencache"
)

func newCompositeUnderTest(stub *redisStub) *tokencache.Composite {
	store := tokencache.NewRedisWithClient(stub, "fusion_tokens", time.Hour, nil)
	return tokencache.NewComposite(tokencache.NewMemory(time.Hour), store, nil)
}

func TestCompositeGetOrFetch_RedisHitIsNotAPlatformFetch(t *testing.T) {
	stub := newRedisStub()
	store := tokencache.NewRedisWithClient(stub, "fusion_tokens", time.Hour, nil)
	if err := store.Set(context.Background(), "fusion:2.1", expiringToken("shared", time.Hour)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// a fresh replica with a cold memory layer
	comp := tokencache.NewComposite(tokencache.NewMemory(time.Hour), store, nil)
	token, fetched, err := comp.GetOrFetch(context.Background(), "fusion:2.1", func(ctx context.Context) (*license.TokenResponse, error) {
		t.Fatal("a redis hit must not reach the platform")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fetched {
		t.Fatal("a redis read-through must count as a cache hit, not a fetch")
	}
	if token.SignedToken != "shared" {
		t.Fatalf("unexpected token %q", token.SignedToken)
	}
}

func TestCompositeGetOrFetch_DoubleMissFetchesOnceAndWritesThrough(t *testing.T) {
	stub := newRedisStub()
	comp := newCompositeUnderTest(stub)

	var calls int32
	fetch := func(ctx context.Context) (*license.TokenResponse, error) {
		atomic.AddInt32(&calls, 1)
		return expiringToken("fresh", time.Hour), nil
	}

	token, fetched, err := comp.GetOrFetch(context.Background(), "fusion:2.1", fetch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fetched || token.SignedToken != "fresh" {
		t.Fatalf("expected a platform fetch, got fetched=%v token=%q", fetched, token.SignedToken)
	}
	if _, ok := stub.data["fusion_tokens:fusion:2.1"]; !ok {
		t.Fatal("the fetched token must be written through to redis")
	}

	// a second replica finds the token in redis without another fetch
	other := tokencache.NewComposite(tokencache.NewMemory(time.Hour), tokencache.NewRedisWithClient(stub, "fusion_tokens", time.Hour, nil), nil)
	_, fetched, err = other.GetOrFetch(context.Background(), "fusion:2.1", fetch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fetched {
		t.Fatal("the write-through must be reusable as a cache hit")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected a single fetch across replicas, got %d", n)
	}
}

func TestCompositeGetOrFetch_MemoryHitSkipsRedis(t *testing.T) {
	stub := newRedisStub()
	comp := newCompositeUnderTest(stub)

	var calls int32
	fetch := func(ctx context.Context) (*license.TokenResponse, error) {
		atomic.AddInt32(&calls, 1)
		return expiringToken("tok", time.Hour), nil
	}
	if _, _, err := comp.GetOrFetch(context.Background(), "fusion:2.1", fetch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// losing the redis copy must not matter while the memory entry is live
	delete(stub.data, "fusion_tokens:fusion:2.1")
	_, fetched, err := comp.GetOrFetch(context.Background(), "fusion:2.1", fetch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fetched {
		t.Fatal("expected a memory hit")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected no extra fetch, got %d", n)
	}
}

func TestCompositeInvalidate_PurgesBothLayers(t *testing.T) {
	stub := newRedisStub()
	comp := newCompositeUnderTest(stub)

	var calls int32
	fetch := func(ctx context.Context) (*license.TokenResponse, error) {
		atomic.AddInt32(&calls, 1)
		return expiringToken("tok", time.Hour), nil
	}
	if _, _, err := comp.GetOrFetch(context.Background(), "fusion:2.1", fetch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := comp.Invalidate(context.Background(), "fusion:2.1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stub.data) != 0 {
		t.Fatal("invalidation must purge redis, or a stale token could be re-adopted")
	}

	_, fetched, err := comp.GetOrFetch(context.Background(), "fusion:2.1", fetch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fetched {
		t.Fatal("expected a refetch after invalidation")
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("expected 2 fetches, got %d", n)
	}
}

func TestCompositeGetOrFetch_FetchErrorLeavesNothingBehind(t *testing.T) {
	stub := newRedisStub()
	comp := newCompositeUnderTest(stub)

	boom := errors.New("platform unreachable")
	_, _, err := comp.GetOrFetch(context.Background(), "fusion:2.1", func(ctx context.Context) (*license.TokenResponse, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the fetch error, got %v", err)
	}
	if len(stub.data) != 0 {
		t.Fatal("a failed fetch must not write to redis")
	}
}
