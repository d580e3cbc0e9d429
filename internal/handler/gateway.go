package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"review-gateway/internal/client"
	"review-gateway/internal/model"
	"review-gateway/internal/service"
)

// streamBufSize is the read size when copying an origin body to the viewer.
const streamBufSize = 32 * 1024

// GatewayHandler forwards viewer requests through the edge stages to the origin.
type GatewayHandler struct {
	service *service.GatewayService
	logger  *slog.Logger
}

// NewGatewayHandler creates a GatewayHandler.
func NewGatewayHandler(svc *service.GatewayService, logger *slog.Logger) *GatewayHandler {
	return &GatewayHandler{
		service: svc,
		logger:  logger.With("component", "gateway_handler"),
	}
}

// Handle forwards the request and streams the origin response back,
// flushing after every read so chunked answers reach the viewer as they arrive.
func (h *GatewayHandler) Handle(c echo.Context) error {
	req := c.Request()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "could not read request body",
		})
	}

	gr := &model.GatewayRequest{
		Ctx:      req.Context(),
		Method:   req.Method,
		Path:     req.URL.Path,
		RawQuery: req.URL.RawQuery,
		Host:     req.Host,
		Header:   req.Header,
		Body:     body,
	}

	resp, err := h.service.Forward(gr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}
	c.Response().WriteHeader(resp.StatusCode)
	c.Response().Flush()

	// The status line is already out. If the origin stream breaks, abort the
	// connection so the viewer cannot mistake a partial body for a whole one.
	buf := make([]byte, streamBufSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := c.Response().Write(buf[:n]); werr != nil {
				h.logger.Warn("writing response body",
					"err", werr,
					"path", req.URL.Path,
				)
				return nil
			}
			c.Response().Flush()
		}
		if errors.Is(rerr, io.EOF) {
			return nil
		}
		if rerr != nil {
			h.logger.Error("streaming origin body",
				"err", rerr,
				"path", req.URL.Path,
			)
			panic(http.ErrAbortHandler)
		}
	}
}

func (h *GatewayHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("gateway error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	if errors.Is(err, client.ErrSigning) {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "origin request signing failed",
		})
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "origin request timed out",
		})
	}

	if errors.Is(err, context.Canceled) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "origin host unreachable",
		})
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "origin request timed out",
		})
	}
	if errors.As(err, &urlErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "origin connection failed",
		})
	}

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "origin request failed",
	})
}
