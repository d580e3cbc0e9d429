package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"review-gateway/internal/config"
	"review-gateway/internal/metrics"
)

// RegisterRelayRoutes wires the review relay's handlers onto the Echo instance.
func RegisterRelayRoutes(e *echo.Echo, review *ReviewHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/status", health.Status)

	e.POST("/api/review", review.Review)
}

// RegisterGatewayRoutes wires the edge gateway's handlers onto the Echo
// instance. Everything outside /_edge is forwarded to the origin.
func RegisterGatewayRoutes(e *echo.Echo, gateway *GatewayHandler, health *HealthHandler) {
	e.GET("/_edge/healthz", health.Healthz)
	e.GET("/_edge/status", health.Status)

	e.Any("/*", gateway.Handle)
}

// RegisterMetricsRoute exposes the private Prometheus registry when enabled.
func RegisterMetricsRoute(e *echo.Echo, cfg *config.Config, m *metrics.Metrics) {
	if !cfg.Metrics.Enabled {
		return
	}
	e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
}
