// Package middleware provides Echo middleware shared by the relay and the
// edge gateway.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

// HeaderOriginalHost carries the host the viewer addressed before the edge
// rewrote it.
const HeaderOriginalHost = "X-Original-Host"

// RequestLogger returns an Echo middleware that logs each request with slog.
// Streamed responses are logged once the stream has ended. A stream aborted
// with http.ErrAbortHandler is logged at warn level with aborted=true, then
// the panic continues so the connection is still dropped.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			defer func() {
				if r := recover(); r != nil {
					if isAbort(r) {
						attrs := append(requestAttrs(c, start), "aborted", true)
						logger.Warn("request", attrs...)
					}
					panic(r)
				}
			}()

			err := next(c)

			attrs := requestAttrs(c, start)
			if err != nil {
				attrs = append(attrs, "error", err)
			}
			logger.Info("request", attrs...)

			return err
		}
	}
}

func requestAttrs(c echo.Context, start time.Time) []any {
	req := c.Request()
	res := c.Response()

	attrs := []any{
		"method", req.Method,
		"path", req.URL.Path,
		"status", res.Status,
		"duration_ms", time.Since(start).Milliseconds(),
		"request_id", res.Header().Get(echo.HeaderXRequestID),
		"remote_ip", c.RealIP(),
		"bytes_out", res.Size,
	}
	if host := req.Header.Get(HeaderOriginalHost); host != "" {
		attrs = append(attrs, "original_host", host)
	}
	if id := res.Header().Get("X-Session-Id"); id != "" {
		attrs = append(attrs, "session_id", id)
	}
	return attrs
}
