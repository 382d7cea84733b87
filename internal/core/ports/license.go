package ports

import (
	"context"

	"github.com/accelfs/license-broker/internal/core/domain/license"
)

// LicenseClient performs the retry-wrapped HTTP round trip against the
// platform licensing endpoint.
type LicenseClient interface {
	FetchToken(ctx context.Context, req license.TokenRequest) (*license.TokenResponse, error)
}

// TokenFetchFunc loads a token when the cache has nothing usable for a key.
type TokenFetchFunc func(ctx context.Context) (*license.TokenResponse, error)

// TokenCache holds at most one live entry per cache key.
type TokenCache interface {
	// GetOrFetch returns the cached token for key, or runs fetch and stores
	// the result. Concurrent callers for the same key collapse into a single
	// in-flight fetch. fetched is true when the returned value came from a
	// platform round trip rather than a cache layer.
	GetOrFetch(ctx context.Context, key string, fetch TokenFetchFunc) (resp *license.TokenResponse, fetched bool, err error)

	// Invalidate evicts the entry for key ahead of its natural TTL.
	// Absence is not an error.
	Invalidate(ctx context.Context, key string) error
}

// EnvironmentProvider is the capability interface consumed by host runtimes:
// "obtain the environment variables that authenticate the accelerated
// filesystem layer for a given product/version".
type EnvironmentProvider interface {
	// GetEnvironment returns {"FUSION_LICENSE_TOKEN": token} on success and
	// an empty mapping on any degraded outcome. The only error it returns is
	// *license.MissingCredentialError, which callers must treat as fatal.
	GetEnvironment(ctx context.Context, req license.TokenRequest) (license.Environment, error)
}

// LicenseTokenService is the full orchestrator surface.
type LicenseTokenService interface {
	EnvironmentProvider

	// GetLicenseToken returns a token that is valid at the moment of return,
	// or one of the taxonomy errors from the license domain package.
	GetLicenseToken(ctx context.Context, req license.TokenRequest) (*license.TokenResponse, error)
}
