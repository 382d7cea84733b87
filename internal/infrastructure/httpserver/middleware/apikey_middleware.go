package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/accelfs/license-broker/internal/utils"
)

// APIKeyMiddleware authenticates facade callers against a bcrypt hash of
// the broker API key. An empty hash disables the check (loopback-only
// deployments).
type APIKeyMiddleware struct {
	keyHash string
	logger  *logrus.Logger
}

func NewAPIKeyMiddleware(keyHash string, logger *logrus.Logger) *APIKeyMiddleware {
	return &APIKeyMiddleware{keyHash: keyHash, logger: logger}
}

// RequireAPIKey checks the X-Broker-Key header (or a Bearer token) against
// the configured hash.
func (m *APIKeyMiddleware) RequireAPIKey() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m.keyHash == "" {
				return next(c)
			}
			key := c.Request().Header.Get("X-Broker-Key")
			if key == "" {
				auth := c.Request().Header.Get(echo.HeaderAuthorization)
				key = strings.TrimPrefix(auth, "Bearer ")
			}
			if key == "" || !utils.CheckAPIKey(key, m.keyHash) {
				if m.logger != nil {
					m.logger.WithField("remote", c.RealIP()).Warn("rejected request with invalid broker API key")
				}
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid broker API key")
			}
			return next(c)
		}
	}
}
