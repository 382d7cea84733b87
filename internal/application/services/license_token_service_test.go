package services_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	impl "github.com/accelfs/license-broker/internal/application/services"
	"github.com/accelfs/license-broker/internal/core/domain/audit"
	"github.com/accelfs/license-broker/internal/core/domain/license"
	"github.com/accelfs/license-broker/internal/core/ports"
)

type licenseClientMock struct {
	fetchFn func(ctx context.Context, req license.TokenRequest) (*license.TokenResponse, error)
	calls   int32
}

func (m *licenseClientMock) FetchToken(ctx context.Context, req license.TokenRequest) (*license.TokenResponse, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.fetchFn != nil {
		return m.fetchFn(ctx, req)
	}
	return nil, errors.New("fetchFn not set")
}

// tokenCacheFake is a minimal in-memory stand-in for the real cache: stored
// entries are served without consulting the client, misses run the fetch.
type tokenCacheFake struct {
	mu    sync.Mutex
	items map[string]*license.TokenResponse
}

func newTokenCacheFake() *tokenCacheFake {
	return &tokenCacheFake{items: make(map[string]*license.TokenResponse)}
}

func (f *tokenCacheFake) GetOrFetch(ctx context.Context, key string, fetch ports.TokenFetchFunc) (*license.TokenResponse, bool, error) {
	f.mu.Lock()
	token, ok := f.items[key]
	f.mu.Unlock()
	if ok {
		return token, false, nil
	}
	token, err := fetch(ctx)
	if err != nil {
		return nil, false, err
	}
	f.mu.Lock()
	f.items[key] = token
	f.mu.Unlock()
	return token, true, nil
}

func (f *tokenCacheFake) Invalidate(_ context.Context, key string) error {
	f.mu.Lock()
	delete(f.items, key)
	f.mu.Unlock()
	return nil
}

type fetchLogRepoMock struct {
	createFn func(ctx context.Context, rec *audit.FetchRecord) error
}

func (m *fetchLogRepoMock) Create(ctx context.Context, rec *audit.FetchRecord) error {
	if m.createFn != nil {
		return m.createFn(ctx, rec)
	}
	return nil
}
func (m *fetchLogRepoMock) List(ctx context.Context, f *audit.FetchRecordFilter) ([]*audit.FetchRecord, error) {
	return nil, nil
}
func (m *fetchLogRepoMock) Count(ctx context.Context, f *audit.FetchRecordFilter) (int, error) {
	return 0, nil
}

func credential(s string) *string { return &s }

func tokenExpiringAt(signed string, at time.Time) *license.TokenResponse {
	return &license.TokenResponse{
		SignedToken:    signed,
		ExpirationDate: license.Timestamp{Time: at},
	}
}

func TestGetLicenseToken_MissingCredential(t *testing.T) {
	client := &licenseClientMock{fetchFn: func(ctx context.Context, req license.TokenRequest) (*license.TokenResponse, error) {
		t.Fatal("the client must not be called without a credential")
		return nil, nil
	}}

	for _, cred := range []*string{nil, credential(""), credential("   ")} {
		svc := impl.NewLicenseTokenService(client, newTokenCacheFake(), cred, nil, nil)
		_, err := svc.GetLicenseToken(context.Background(), license.TokenRequest{})

		var missing *license.MissingCredentialError
		if !errors.As(err, &missing) {
			t.Fatalf("expected MissingCredentialError, got %v", err)
		}
		if missing.Variable != "PLATFORM_ACCESS_TOKEN" {
			t.Fatalf("the error must name the variable to set, got %q", missing.Variable)
		}
	}
}

func TestGetLicenseToken_FreshFetch(t *testing.T) {
	want := tokenExpiringAt("xyz789", time.Now().Add(time.Hour))
	client := &licenseClientMock{fetchFn: func(ctx context.Context, req license.TokenRequest) (*license.TokenResponse, error) {
		return want, nil
	}}
	svc := impl.NewLicenseTokenService(client, newTokenCacheFake(), credential("cred"), nil, nil)

	token, err := svc.GetLicenseToken(context.Background(), license.TokenRequest{Product: "fusion"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token.SignedToken != "xyz789" {
		t.Fatalf("unexpected token %q", token.SignedToken)
	}
	if client.calls != 1 {
		t.Fatalf("expected 1 fetch, got %d", client.calls)
	}
}

func TestGetLicenseToken_ValidCachedTokenReused(t *testing.T) {
	client := &licenseClientMock{fetchFn: func(ctx context.Context, req license.TokenRequest) (*license.TokenResponse, error) {
		return tokenExpiringAt("tok", time.Now().Add(time.Hour)), nil
	}}
	svc := impl.NewLicenseTokenService(client, newTokenCacheFake(), credential("cred"), nil, nil)

	req := license.TokenRequest{Product: "fusion", Version: "2.1"}
	for i := 0; i < 3; i++ {
		if _, err := svc.GetLicenseToken(context.Background(), req); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
	}
	if client.calls != 1 {
		t.Fatalf("expected a single platform fetch across repeated calls, got %d", client.calls)
	}
}

func TestGetLicenseToken_ExpiredCacheEntryRefreshedOnce(t *testing.T) {
	cache := newTokenCacheFake()
	req := license.TokenRequest{Product: "fusion", Version: "2.1"}
	// an entry whose cache TTL has not elapsed but whose issuer expiry has
	cache.items[req.CacheKey()] = tokenExpiringAt("stale", time.Now().Add(-time.Minute))

	client := &licenseClientMock{fetchFn: func(ctx context.Context, req license.TokenRequest) (*license.TokenResponse, error) {
		return tokenExpiringAt("fresh", time.Now().Add(time.Hour)), nil
	}}
	svc := impl.NewLicenseTokenService(client, cache, credential("cred"), nil, nil)

	token, err := svc.GetLicenseToken(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token.SignedToken != "fresh" {
		t.Fatalf("expected the refreshed token, got %q", token.SignedToken)
	}
	if client.calls != 1 {
		t.Fatalf("expected exactly one refresh fetch, got %d", client.calls)
	}
	if cache.items[req.CacheKey()].SignedToken != "fresh" {
		t.Fatal("the expired entry must be replaced in the cache")
	}
}

func TestGetLicenseToken_StaleAfterRefresh(t *testing.T) {
	var recorded []*audit.FetchRecord
	repo := &fetchLogRepoMock{createFn: func(ctx context.Context, rec *audit.FetchRecord) error {
		recorded = append(recorded, rec)
		return nil
	}}

	// the platform keeps issuing already-expired tokens
	client := &licenseClientMock{fetchFn: func(ctx context.Context, req license.TokenRequest) (*license.TokenResponse, error) {
		return tokenExpiringAt("dead", time.Now().Add(-time.Minute)), nil
	}}
	cache := newTokenCacheFake()
	svc := impl.NewLicenseTokenService(client, cache, credential("cred"), repo, nil)

	req := license.TokenRequest{Product: "fusion"}
	_, err := svc.GetLicenseToken(context.Background(), req)
	if !errors.Is(err, license.ErrTokenStale) {
		t.Fatalf("expected ErrTokenStale, got %v", err)
	}
	if client.calls != 2 {
		t.Fatalf("the refresh loop must stop after 2 platform fetches, got %d", client.calls)
	}
	if len(cache.items) != 0 {
		t.Fatal("no expired token may be left behind in the cache")
	}
	if len(recorded) != 1 {
		t.Fatalf("expected one stale record, got %d", len(recorded))
	}
	if recorded[0].Outcome != audit.OutcomeStale {
		t.Fatalf("unexpected outcome %q", recorded[0].Outcome)
	}
	if recorded[0].Attempts != 2 {
		t.Fatalf("expected the record to count 2 fetches, got %d", recorded[0].Attempts)
	}
}

func TestGetLicenseToken_ClientErrorPropagates(t *testing.T) {
	client := &licenseClientMock{fetchFn: func(ctx context.Context, req license.TokenRequest) (*license.TokenResponse, error) {
		return nil, &license.UnauthorizedError{URL: "https://platform.example/license/token/"}
	}}
	svc := impl.NewLicenseTokenService(client, newTokenCacheFake(), credential("revoked"), nil, nil)

	_, err := svc.GetLicenseToken(context.Background(), license.TokenRequest{})
	var unauthorized *license.UnauthorizedError
	if !errors.As(err, &unauthorized) {
		t.Fatalf("expected UnauthorizedError, got %v", err)
	}
	if client.calls != 1 {
		t.Fatalf("a terminal client error must not be refetched, got %d calls", client.calls)
	}
}

func TestGetEnvironment_Success(t *testing.T) {
	client := &licenseClientMock{fetchFn: func(ctx context.Context, req license.TokenRequest) (*license.TokenResponse, error) {
		return tokenExpiringAt("xyz789", time.Now().Add(time.Hour)), nil
	}}
	svc := impl.NewLicenseTokenService(client, newTokenCacheFake(), credential("cred"), nil, nil)

	env, err := svc.GetEnvironment(context.Background(), license.TokenRequest{Product: "fusion", Version: "2.1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(env) != 1 || env["FUSION_LICENSE_TOKEN"] != "xyz789" {
		t.Fatalf("unexpected environment %v", env)
	}
}

func TestGetEnvironment_DegradesToEmptyMapping(t *testing.T) {
	failures := []error{
		&license.UnauthorizedError{URL: "https://platform.example/license/token/"},
		&license.BadResponseError{StatusCode: 500},
		&license.MalformedPayloadError{Err: errors.New("not json")},
		errors.New("dial tcp: connection refused"),
	}
	for _, failure := range failures {
		failure := failure
		client := &licenseClientMock{fetchFn: func(ctx context.Context, req license.TokenRequest) (*license.TokenResponse, error) {
			return nil, failure
		}}
		svc := impl.NewLicenseTokenService(client, newTokenCacheFake(), credential("cred"), nil, nil)

		env, err := svc.GetEnvironment(context.Background(), license.TokenRequest{})
		if err != nil {
			t.Fatalf("failure %v must degrade, not propagate: %v", failure, err)
		}
		if env == nil || len(env) != 0 {
			t.Fatalf("expected an empty mapping, got %v", env)
		}
	}
}

func TestGetEnvironment_StaleTokenDegrades(t *testing.T) {
	client := &licenseClientMock{fetchFn: func(ctx context.Context, req license.TokenRequest) (*license.TokenResponse, error) {
		return tokenExpiringAt("dead", time.Now().Add(-time.Minute)), nil
	}}
	svc := impl.NewLicenseTokenService(client, newTokenCacheFake(), credential("cred"), nil, nil)

	env, err := svc.GetEnvironment(context.Background(), license.TokenRequest{})
	if err != nil {
		t.Fatalf("a stale token must degrade, not propagate: %v", err)
	}
	if len(env) != 0 {
		t.Fatalf("expected an empty mapping, got %v", env)
	}
}

func TestGetEnvironment_MissingCredentialIsFatal(t *testing.T) {
	client := &licenseClientMock{}
	svc := impl.NewLicenseTokenService(client, newTokenCacheFake(), nil, nil, nil)

	env, err := svc.GetEnvironment(context.Background(), license.TokenRequest{})
	var missing *license.MissingCredentialError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingCredentialError, got %v", err)
	}
	if env != nil {
		t.Fatalf("no mapping may accompany the fatal error, got %v", env)
	}
}
