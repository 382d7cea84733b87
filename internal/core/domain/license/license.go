package license

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// EnvLicenseToken is the environment variable handed to the accelerated
// filesystem layer on a successful token fetch.
const EnvLicenseToken = "FUSION_LICENSE_TOKEN"

// TokenRequest identifies the product the token is requested for.
// Both fields are optional and omitted from the wire payload when blank.
type TokenRequest struct {
	Product string `json:"product,omitempty"`
	Version string `json:"version,omitempty"`
}

// CacheKey derives the cache key for this request. Distinct product/version
// pairs get distinct entries; a fully blank request is a valid key of its own.
func (r TokenRequest) CacheKey() string {
	return r.Product + ":" + r.Version
}

// Timestamp accepts the two expiration encodings the platform is known to
// emit: an RFC3339 string or epoch seconds. It marshals back as RFC3339.
type Timestamp struct {
	time.Time
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Format(time.RFC3339))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("invalid expiration timestamp %q: %w", s, err)
		}
		t.Time = parsed
		return nil
	}
	epoch, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid expiration timestamp %s", string(data))
	}
	t.Time = time.Unix(epoch, 0)
	return nil
}

// TokenResponse is the platform's authoritative claim of a token's validity
// window. It is immutable by contract: callers receive it and never mutate it.
type TokenResponse struct {
	SignedToken    string    `json:"signedToken"`
	ExpirationDate Timestamp `json:"expirationDate"`
}

// EffectiveExpiry returns the instant the token stops being usable. The
// signed token is opaque on the wire, but when it parses as a JWT whose exp
// claim precedes the declared expiration date, the earlier instant wins:
// the two clocks are issued independently and the pessimistic one is the
// only safe answer.
func (r *TokenResponse) EffectiveExpiry() time.Time {
	expiry := r.ExpirationDate.Time
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(r.SignedToken, claims); err != nil {
		return expiry
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return expiry
	}
	if exp.Time.Before(expiry) {
		return exp.Time
	}
	return expiry
}

// Expired reports whether the token is unusable at the given instant.
func (r *TokenResponse) Expired(now time.Time) bool {
	return !r.EffectiveExpiry().After(now)
}

// Environment is the mapping handed back to the host runtime.
type Environment map[string]string

// NewEnvironment builds the single-variable mapping for a valid token.
func NewEnvironment(resp *TokenResponse) Environment {
	return Environment{EnvLicenseToken: resp.SignedToken}
}
