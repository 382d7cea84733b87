package platform

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/accelfs/license-broker/internal/core/domain/audit"
	"github.com/accelfs/license-broker/internal/core/domain/license"
	"github.com/accelfs/license-broker/internal/core/ports"
)

const (
	tokenPath = "/license/token/"

	// cap on the amount of error body carried into diagnostics
	maxErrorBody = 8 << 10
)

// Client talks to the platform licensing endpoint. It is immutable after
// construction and safe for concurrent use; retries are the retry policy's
// job, the client itself never re-issues a request.
type Client struct {
	tokenURL    string
	accessToken string
	http        *http.Client
	retry       *RetryPolicy
	audit       ports.FetchLogRepository
	logger      *logrus.Logger
}

// NewClient builds the pooled HTTP client. The transport pins HTTP/1.1 (no
// opportunistic h2 upgrade), refuses to follow redirects and shares a cookie
// jar across requests.
func NewClient(endpoint, accessToken string, connectTimeout time.Duration, retry *RetryPolicy, auditRepo ports.FetchLogRepository, logger *logrus.Logger) *Client {
	jar, _ := cookiejar.New(nil)

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   false,
		TLSNextProto:        map[string]func(string, *tls.Conn) http.RoundTripper{},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		tokenURL:    strings.TrimSuffix(endpoint, "/") + tokenPath,
		accessToken: accessToken,
		http: &http.Client{
			Transport: transport,
			Jar:       jar,
			// a redirect on an auth endpoint is suspicious; surface it as-is
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		retry:  retry,
		audit:  auditRepo,
		logger: logger,
	}
}

// FetchToken requests a license token, retrying per the policy. The outcome
// of every platform round trip is recorded in the fetch log when one is
// configured.
func (c *Client) FetchToken(ctx context.Context, req license.TokenRequest) (*license.TokenResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode token request: %w", err)
	}

	start := time.Now()
	attempts := 0
	resp, err := c.retry.Do(ctx, func(ctx context.Context) (*http.Response, error) {
		attempts++
		httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, bytes.NewReader(body))
		if reqErr != nil {
			return nil, reqErr
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.accessToken)
		return c.http.Do(httpReq)
	})

	token, err := c.decode(resp, err)
	c.record(ctx, req, token, resp, err, attempts, time.Since(start))
	return token, err
}

// decode maps the final response-or-error of the retry loop onto the token
// or the error taxonomy.
func (c *Client) decode(resp *http.Response, err error) (*license.TokenResponse, error) {
	if err != nil {
		return nil, fmt.Errorf("license token request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &license.UnauthorizedError{URL: c.tokenURL}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		diag, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &license.BadResponseError{
			Method:     http.MethodPost,
			URL:        c.tokenURL,
			StatusCode: resp.StatusCode,
			Body:       string(diag),
		}
	}

	var token license.TokenResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&token); decErr != nil {
		return nil, &license.MalformedPayloadError{URL: c.tokenURL, Err: decErr}
	}
	if token.SignedToken == "" {
		return nil, &license.MalformedPayloadError{URL: c.tokenURL, Err: fmt.Errorf("response is missing signedToken")}
	}
	return &token, nil
}

func (c *Client) record(ctx context.Context, req license.TokenRequest, token *license.TokenResponse, resp *http.Response, err error, attempts int, duration time.Duration) {
	outcome := classifyOutcome(err)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}

	fetchesTotal.WithLabelValues(string(outcome)).Inc()
	fetchDuration.Observe(duration.Seconds())

	if c.logger != nil {
		entry := c.logger.WithFields(logrus.Fields{
			"product":  req.Product,
			"version":  req.Version,
			"outcome":  outcome,
			"status":   status,
			"attempts": attempts,
			"duration": duration.String(),
		})
		if err != nil {
			entry.WithError(err).Debug("platform token fetch finished")
		} else {
			entry.WithField("expires_at", token.ExpirationDate.Format(time.RFC3339)).Debug("platform token fetch finished")
		}
	}

	if c.audit != nil {
		rec := &audit.FetchRecord{
			ID:         uuid.New(),
			Product:    req.Product,
			Version:    req.Version,
			Outcome:    outcome,
			StatusCode: status,
			Attempts:   attempts,
			Duration:   duration,
			Timestamp:  time.Now(),
		}
		if auditErr := c.audit.Create(ctx, rec); auditErr != nil && c.logger != nil {
			c.logger.WithError(auditErr).Warn("failed to persist token fetch record")
		}
	}
}

func classifyOutcome(err error) audit.FetchOutcome {
	var (
		unauthorized *license.UnauthorizedError
		badResponse  *license.BadResponseError
		malformed    *license.MalformedPayloadError
	)
	switch {
	case err == nil:
		return audit.OutcomeSuccess
	case errors.As(err, &unauthorized):
		return audit.OutcomeUnauthorized
	case errors.As(err, &badResponse):
		return audit.OutcomeBadResponse
	case errors.As(err, &malformed):
		return audit.OutcomeMalformed
	default:
		return audit.OutcomeTransport
	}
}
