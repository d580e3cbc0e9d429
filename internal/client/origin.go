// Package client provides the HTTP client the edge gateway uses to reach the
// signed origin.
package client

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"review-gateway/internal/config"
	"review-gateway/internal/metrics"
	"review-gateway/internal/model"
)

// OriginClient sends requests to the origin, signing them when a Signer is set.
type OriginClient struct {
	httpClient *http.Client
	signer     *Signer
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewOriginClient creates an OriginClient with connection pooling and timeouts.
// signer and m are optional; pass nil to send unsigned requests or to disable
// origin metrics recording.
//
// edge.timeout_seconds bounds the wait for the origin's response headers
// only. A review stream may run far longer once it has started.
func NewOriginClient(cfg *config.Config, signer *Signer, logger *slog.Logger, m *metrics.Metrics) *OriginClient {
	transport := &http.Transport{
		MaxIdleConns:          cfg.Edge.IdleConnections,
		MaxIdleConnsPerHost:   cfg.Edge.IdleConnections,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: time.Duration(cfg.Edge.TimeoutSeconds) * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		// Pass the origin's Content-Encoding through untouched.
		DisableCompression: true,
	}

	return &OriginClient{
		httpClient: &http.Client{Transport: transport},
		signer:     signer,
		logger:     logger.With("component", "origin_client"),
		metrics:    m,
	}
}

// Do executes req against the origin and returns the raw response.
// The caller is responsible for closing the response body.
func (c *OriginClient) Do(req *http.Request) (*model.OriginResponse, error) {
	c.logger.Debug("origin request",
		"method", req.Method,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via OriginResponse
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		}
		return nil, fmt.Errorf("origin request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}

	return &model.OriginResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// DoStream builds, signs and sends a request and returns the response body as
// a stream. The caller is responsible for closing the returned body.
//
// payloadHash is the hex SHA-256 of body; when empty it is computed here.
// ctx controls the lifetime of the origin request, so a client disconnect
// cancels it.
func (c *OriginClient) DoStream(ctx context.Context, method, url string, header http.Header, body []byte, payloadHash string) (*model.OriginResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build origin request: %w", err)
	}
	if header == nil {
		header = make(http.Header)
	}
	req.Header = header
	req.ContentLength = int64(len(body))
	if len(body) == 0 {
		req.Body = http.NoBody
	}

	if c.signer != nil {
		if payloadHash == "" {
			payloadHash = PayloadHash(body)
		}
		if err := c.signer.Sign(ctx, req, payloadHash); err != nil {
			return nil, err
		}
	}

	return c.Do(req)
}
