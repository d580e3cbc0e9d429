// Package service implements the edge gateway's forwarding logic: the two
// edge stages followed by a signed call to the origin.
package service

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"review-gateway/internal/client"
	"review-gateway/internal/config"
	"review-gateway/internal/edge"
	"review-gateway/internal/metrics"
	"review-gateway/internal/model"
)

// ErrNoOrigin is returned when the gateway has no origin to forward to.
var ErrNoOrigin = errors.New("edge.origin_url is not configured")

// functionURLSuffix is the host suffix of Lambda Function URLs, the only
// origins the gateway signs for with the lambda service.
const functionURLSuffix = ".on.aws"

// originRequestHeaders are the viewer headers the origin request policy
// forwards. The content hash is stamped after filtering.
var originRequestHeaders = []string{
	edge.HeaderOriginalHost,
	"accept",
	"accept-language",
	"content-type",
}

// forwardableResponseHeaders are the only origin headers returned to the viewer.
var forwardableResponseHeaders = map[string]bool{
	"Content-Type":      true,
	"Content-Length":    true,
	"Content-Encoding":  true,
	"Cache-Control":     true,
	"Date":              true,
	"X-Request-Id":      true,
	"X-Session-Id":      true,
	"X-Accel-Buffering": true,
}

const userAgent = "review-gateway-edge/1.0"

// GatewayService runs a viewer request through the edge stages and forwards
// it to the origin.
type GatewayService struct {
	client         *client.OriginClient
	cfg            *config.Config
	logger         *slog.Logger
	metrics        *metrics.Metrics
	baseURL        *url.URL
	forwardHeaders []string
}

// NewGatewayService creates a GatewayService. When requests are signed for
// the lambda service the origin must be a Function URL host.
func NewGatewayService(c *client.OriginClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*GatewayService, error) {
	s, err := newGatewayService(c, cfg, logger, m)
	if err != nil {
		return nil, err
	}
	if cfg.Edge.SigningService == "lambda" && !strings.HasSuffix(s.baseURL.Hostname(), functionURLSuffix) {
		return nil, fmt.Errorf("origin host %q is not a Lambda Function URL", s.baseURL.Hostname())
	}
	return s, nil
}

// NewGatewayServiceForTest creates a GatewayService without origin host validation.
// This is intended only for tests that use httptest servers on localhost.
func NewGatewayServiceForTest(c *client.OriginClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*GatewayService, error) {
	return newGatewayService(c, cfg, logger, m)
}

func newGatewayService(c *client.OriginClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*GatewayService, error) {
	if cfg.Edge.OriginURL == "" {
		return nil, ErrNoOrigin
	}
	u, err := url.Parse(cfg.Edge.OriginURL)
	if err != nil {
		return nil, fmt.Errorf("parse edge origin_url: %w", err)
	}

	forward := append([]string(nil), originRequestHeaders...)
	for _, h := range cfg.Edge.ForwardHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" && h != edge.HeaderHost {
			forward = append(forward, h)
		}
	}

	return &GatewayService{
		client:         c,
		cfg:            cfg,
		logger:         logger.With("component", "gateway_service"),
		metrics:        m,
		baseURL:        u,
		forwardHeaders: forward,
	}, nil
}

// Forward applies the viewer stage, the origin request policy and the origin
// stage to gr, then sends it to the origin and returns the response.
// The caller is responsible for closing the response body.
func (s *GatewayService) Forward(gr *model.GatewayRequest) (*model.OriginResponse, error) {
	return s.forward(gr, edge.RewriteHost(toEdgeRequest(gr)))
}

func (s *GatewayService) forward(gr *model.GatewayRequest, req edge.Request) (*model.OriginResponse, error) {
	req.Headers = s.filterRequestHeaders(req.Headers)

	req, outcome := edge.NormalizeContentHash(req)
	if s.metrics != nil {
		s.metrics.Normalizations.WithLabelValues(string(outcome)).Inc()
	}

	body, err := req.Body.Bytes()
	if err != nil {
		body = gr.Body
	}

	header := toHTTPHeader(req.Headers)
	header.Set("User-Agent", userAgent)

	s.logger.Debug("forwarding request",
		"method", gr.Method,
		"path", gr.Path,
		"original_host", req.Headers.Get(edge.HeaderOriginalHost),
		"normalization", string(outcome),
	)

	resp, err := s.client.DoStream(gr.Ctx, gr.Method, s.buildOriginURL(gr.Path, gr.RawQuery), header, body, payloadHash(req, outcome))
	if err != nil {
		return nil, fmt.Errorf("forward to origin: %w", err)
	}

	resp.Header = s.filterResponseHeaders(resp.Header)
	return resp, nil
}

// payloadHash is the hash the origin request is signed with. A body the origin
// stage could not read is forwarded unchanged and left out of the signature,
// so the origin's own check decides whether to accept it.
func payloadHash(req edge.Request, outcome edge.Outcome) string {
	if outcome == edge.OutcomeSkipped {
		return client.UnsignedPayload
	}
	return req.Headers.Get(edge.HeaderContentSHA256)
}

// toEdgeRequest converts a viewer request to the CDN record shape. Valid
// UTF-8 bodies are presented as text, anything else as base64.
func toEdgeRequest(gr *model.GatewayRequest) edge.Request {
	headers := make(edge.Headers, len(gr.Header)+1)
	for key, vals := range gr.Header {
		for _, v := range vals {
			headers.Add(key, v)
		}
	}
	if gr.Host != "" {
		headers.Set(edge.HeaderHost, gr.Host)
	}

	req := edge.Request{
		Method:  gr.Method,
		URI:     gr.Path,
		Query:   gr.RawQuery,
		Headers: headers,
	}
	if len(gr.Body) > 0 {
		if utf8.Valid(gr.Body) {
			req.Body = &edge.Body{Data: string(gr.Body), Encoding: edge.EncodingText}
		} else {
			req.Body = &edge.Body{Data: base64.StdEncoding.EncodeToString(gr.Body), Encoding: edge.EncodingBase64}
		}
	}
	return req
}

func toHTTPHeader(src edge.Headers) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		dst[http.CanonicalHeaderKey(key)] = append([]string(nil), vals...)
	}
	return dst
}

func (s *GatewayService) buildOriginURL(path, rawQuery string) string {
	u := *s.baseURL
	u.Path = strings.TrimRight(s.baseURL.Path, "/") + path
	u.RawQuery = rawQuery
	return u.String()
}

// filterRequestHeaders keeps only the headers named by the origin request
// policy. Host is dropped so the origin sees its own hostname.
func (s *GatewayService) filterRequestHeaders(src edge.Headers) edge.Headers {
	dst := make(edge.Headers, len(s.forwardHeaders)+1)
	for _, key := range s.forwardHeaders {
		if vals := src[key]; len(vals) > 0 {
			dst[key] = append([]string(nil), vals...)
		}
	}
	return dst
}

func (s *GatewayService) filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for key, vals := range src {
		if forwardableResponseHeaders[http.CanonicalHeaderKey(key)] {
			dst[key] = vals
		}
	}
	return dst
}
