package license

import (
	"errors"
	"fmt"
)

// MissingCredentialError is the one failure the service never degrades:
// without a credential no token can ever be fetched, so the whole run is
// misconfigured, not just this feature.
type MissingCredentialError struct {
	// Variable names the configuration variable that was unset or blank.
	Variable string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("missing platform access credential: %s is not set", e.Variable)
}

// UnauthorizedError signals the platform rejected the credential (HTTP 401).
// It is terminal and never retried, so operators can tell a bad credential
// from a server hiccup.
type UnauthorizedError struct {
	URL string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("platform rejected access credential (401) at %s", e.URL)
}

// BadResponseError bundles the diagnostics for any non-2xx status other
// than 401.
type BadResponseError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *BadResponseError) Error() string {
	return fmt.Sprintf("unexpected response %d for %s %s: %s", e.StatusCode, e.Method, e.URL, e.Body)
}

// MalformedPayloadError marks a 200 response whose body failed to parse.
// Distinct from transport and authorization failures.
type MalformedPayloadError struct {
	URL string
	Err error
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed license token payload from %s: %v", e.URL, e.Err)
}

func (e *MalformedPayloadError) Unwrap() error { return e.Err }

// ErrTokenStale reports that the bounded extra refresh attempt still
// yielded an expired token.
var ErrTokenStale = errors.New("license token still expired after refresh")
