package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"review-gateway/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns build and wiring information. Agent and origin fields are
// present only when configured.
func (h *HealthHandler) Status(c echo.Context) error {
	body := map[string]string{
		"status":  "ok",
		"version": string(h.version),
	}
	if h.cfg.Agent.AgentID != "" {
		body["agent_id"] = h.cfg.Agent.AgentID
		body["agent_alias_id"] = h.cfg.Agent.AgentAliasID
	}
	if h.cfg.Edge.OriginURL != "" {
		body["origin_url"] = h.cfg.Edge.OriginURL
	}
	if h.cfg.Sessions.Table != "" {
		body["session_table"] = h.cfg.Sessions.Table
	}
	return c.JSON(http.StatusOK, body)
}
