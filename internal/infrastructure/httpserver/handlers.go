package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/accelfs/license-broker/internal/core/domain/audit"
	"github.com/accelfs/license-broker/internal/core/domain/license"
)

// getEnvironment serves the capability interface over HTTP. The response
// mirrors the library contract: a degraded lookup is still a 200 with an
// empty mapping, because the caller's workflow must proceed either way.
func (s *Server) getEnvironment(c echo.Context) error {
	req := license.TokenRequest{
		Product: c.QueryParam("product"),
		Version: c.QueryParam("version"),
	}

	env, err := s.licenseSvc.GetEnvironment(c.Request().Context(), req)
	if err != nil {
		var missing *license.MissingCredentialError
		if errors.As(err, &missing) {
			return echo.NewHTTPError(http.StatusInternalServerError, missing.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "environment lookup failed")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"environment": env,
	})
}

// getFetchLog returns a page of the token fetch audit trail.
func (s *Server) getFetchLog(c echo.Context) error {
	filter := &audit.FetchRecordFilter{}

	if v := c.QueryParam("product"); v != "" {
		filter.Product = &v
	}
	if v := c.QueryParam("outcome"); v != "" {
		outcome := audit.FetchOutcome(v)
		filter.Outcome = &outcome
	}
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	records, total, err := s.auditSvc.GetFetchRecords(c.Request().Context(), filter)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to query fetch log")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"records": records,
		"total":   total,
	})
}

// healthCheck aggregates dependency probes.
func (s *Server) healthCheck(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]string)
	overall := "healthy"
	for _, hc := range s.healthCheckers {
		if hc == nil {
			continue
		}
		if err := hc.Check(ctx); err != nil {
			deps[hc.Name()] = "unhealthy"
			if overall == "healthy" {
				overall = "degraded"
			}
		} else {
			deps[hc.Name()] = "healthy"
		}
	}
	health := map[string]interface{}{
		"status":       overall,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"service":      "license-broker",
		"dependencies": deps,
	}
	code := http.StatusOK
	if overall != "healthy" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, health)
}
