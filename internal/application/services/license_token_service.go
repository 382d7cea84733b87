package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/accelfs/license-broker/configs"
	"github.com/accelfs/license-broker/internal/core/domain/audit"
	"github.com/accelfs/license-broker/internal/core/domain/license"
	"github.com/accelfs/license-broker/internal/core/ports"
)

// maxPlatformFetches bounds the refresh loop: one fetch plus exactly one
// extra attempt when the fetched token is already expired. Without the bound
// a server issuing expired tokens would be hammered forever.
const maxPlatformFetches = 2

// LicenseTokenService orchestrates cache, retry-wrapped client and the
// dual-clock staleness rule. The cache TTL is only a coarse backstop against
// unbounded staleness; the authoritative check is the comparison against the
// issuer expiration performed here on every read, cached or fresh.
type LicenseTokenService struct {
	client      ports.LicenseClient
	cache       ports.TokenCache
	accessToken *string
	auditRepo   ports.FetchLogRepository
	logger      *logrus.Logger
}

// NewLicenseTokenService wires the orchestrator. accessToken is the resolved
// credential; nil or blank means no token can ever be fetched.
func NewLicenseTokenService(client ports.LicenseClient, cache ports.TokenCache, accessToken *string, auditRepo ports.FetchLogRepository, logger *logrus.Logger) ports.LicenseTokenService {
	return &LicenseTokenService{
		client:      client,
		cache:       cache,
		accessToken: accessToken,
		auditRepo:   auditRepo,
		logger:      logger,
	}
}

// GetLicenseToken returns a token valid at the moment of return.
func (s *LicenseTokenService) GetLicenseToken(ctx context.Context, req license.TokenRequest) (*license.TokenResponse, error) {
	if s.accessToken == nil || strings.TrimSpace(*s.accessToken) == "" {
		return nil, &license.MissingCredentialError{Variable: configs.EnvPlatformAccessToken}
	}

	key := req.CacheKey()
	start := time.Now()
	fetches := 0

	// the iteration bound is defensive only; the fetch budget below is what
	// terminates the loop in practice
	for iter := 0; iter < maxPlatformFetches+2; iter++ {
		token, fetched, err := s.cache.GetOrFetch(ctx, key, func(ctx context.Context) (*license.TokenResponse, error) {
			return s.client.FetchToken(ctx, req)
		})
		if err != nil {
			return nil, err
		}
		if fetched {
			fetches++
		}

		if !token.Expired(time.Now()) {
			if s.logger != nil {
				s.logger.WithFields(logrus.Fields{
					"product":    req.Product,
					"version":    req.Version,
					"from_cache": !fetched,
					"expires_at": token.EffectiveExpiry().Format(time.RFC3339),
				}).Debug("license token delivered")
			}
			return token, nil
		}

		// expired at the moment of use: evict before anyone else reads it
		if err := s.cache.Invalidate(ctx, key); err != nil && s.logger != nil {
			s.logger.WithField("key", key).WithError(err).Warn("failed to evict expired license token")
		}
		if fetches >= maxPlatformFetches {
			break
		}
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{"product": req.Product, "version": req.Version}).
				Debug("evicted expired license token, refreshing")
		}
	}

	s.recordStale(ctx, req, fetches, time.Since(start))
	return nil, license.ErrTokenStale
}

// GetEnvironment implements the capability interface consumed by host
// runtimes. Every failure except a missing credential is degraded to an
// empty mapping: a missing license token must never abort an unrelated
// workflow run. The missing credential propagates because it is a run-wide
// misconfiguration, not a transient feature failure.
func (s *LicenseTokenService) GetEnvironment(ctx context.Context, req license.TokenRequest) (license.Environment, error) {
	token, err := s.GetLicenseToken(ctx, req)
	if err != nil {
		var missing *license.MissingCredentialError
		if errors.As(err, &missing) {
			return nil, err
		}
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{
				"product": req.Product,
				"version": req.Version,
			}).WithError(err).Warnf("license token unavailable; continuing without %s", license.EnvLicenseToken)
		}
		return license.Environment{}, nil
	}
	return license.NewEnvironment(token), nil
}

// recordStale writes the stale-after-refresh outcome to the fetch log; the
// per-round-trip records are written by the client.
func (s *LicenseTokenService) recordStale(ctx context.Context, req license.TokenRequest, fetches int, duration time.Duration) {
	if s.auditRepo == nil {
		return
	}
	rec := &audit.FetchRecord{
		ID:        uuid.New(),
		Product:   req.Product,
		Version:   req.Version,
		Outcome:   audit.OutcomeStale,
		Attempts:  fetches,
		Duration:  duration,
		Timestamp: time.Now(),
	}
	if err := s.auditRepo.Create(ctx, rec); err != nil && s.logger != nil {
		s.logger.WithError(err).Warn("failed to persist stale token record")
	}
}
