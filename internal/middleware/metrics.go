package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"review-gateway/internal/metrics"
)

// MetricsMiddleware returns an Echo middleware that records Prometheus metrics
// for each inbound request. A stream aborted with http.ErrAbortHandler is
// counted with status_code "aborted" before the panic continues to net/http.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			defer func() {
				if r := recover(); r != nil {
					if isAbort(r) {
						observeRequest(m, c, statusAborted, start)
					}
					panic(r)
				}
			}()

			err := next(c)

			// A returned *echo.HTTPError has not been written yet; the
			// central error handler writes it after this middleware.
			statusCode := c.Response().Status
			var he *echo.HTTPError
			if errors.As(err, &he) {
				statusCode = he.Code
			}

			observeRequest(m, c, strconv.Itoa(statusCode), start)
			return err
		}
	}
}

func observeRequest(m *metrics.Metrics, c echo.Context, status string, start time.Time) {
	method := metrics.NormalizeMethod(c.Request().Method)
	path := metrics.NormalizePath(c.Request().URL.Path)
	duration := time.Since(start).Seconds()

	m.RequestsTotal.WithLabelValues(method, status, path).Inc()
	m.RequestDuration.WithLabelValues(method, status, path).Observe(duration)
}
