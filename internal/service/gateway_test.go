package service

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"review-gateway/internal/client"
	"review-gateway/internal/config"
	"review-gateway/internal/edge"
	"review-gateway/internal/metrics"
	"review-gateway/internal/model"
)

func newTestService(t *testing.T, originURL string, forward ...string) (*GatewayService, *metrics.Metrics) {
	t.Helper()
	cfg := &config.Config{
		Edge: config.EdgeConfig{
			OriginURL:       originURL,
			TimeoutSeconds:  10,
			IdleConnections: 10,
			ForwardHeaders:  forward,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	oc := client.NewOriginClient(cfg, nil, logger, m)
	svc, err := NewGatewayServiceForTest(oc, cfg, logger, m)
	if err != nil {
		t.Fatalf("NewGatewayServiceForTest: %v", err)
	}
	return svc, m
}

func TestFilterRequestHeaders(t *testing.T) {
	s, _ := newTestService(t, "https://abc.lambda-url.us-east-1.on.aws", "X-Request-Id", "Host")
	src := edge.Headers{
		"host":                 {"reviews.example.com"},
		"x-original-host":      {"reviews.example.com"},
		"accept":               {"text/plain"},
		"content-type":         {"application/json"},
		"x-request-id":         {"req-1"},
		"authorization":        {"Bearer secret"},
		"cookie":               {"session=abc"},
		"x-amz-content-sha256": {"stale"},
		"x-forwarded-for":      {"1.2.3.4"},
	}

	dst := s.filterRequestHeaders(src)

	tests := []struct {
		name    string
		key     string
		wantLen int
	}{
		{"x-original-host forwarded", "x-original-host", 1},
		{"accept forwarded", "accept", 1},
		{"content-type forwarded", "content-type", 1},
		{"configured header forwarded", "x-request-id", 1},
		{"host dropped even when configured", "host", 0},
		{"authorization stripped", "authorization", 0},
		{"cookie stripped", "cookie", 0},
		{"viewer content hash stripped", "x-amz-content-sha256", 0},
		{"x-forwarded-for stripped", "x-forwarded-for", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(dst[tt.key]); got != tt.wantLen {
				t.Errorf("header %q: got %d values, want %d", tt.key, got, tt.wantLen)
			}
		})
	}
}

func TestFilterResponseHeaders(t *testing.T) {
	s := &GatewayService{}
	src := http.Header{
		"Content-Type":           {"text/plain; charset=utf-8"},
		"Content-Length":         {"42"},
		"Transfer-Encoding":      {"chunked"},
		"Set-Cookie":             {"session=abc"},
		"X-Session-Id":           {"0b7e9d1c"},
		"X-Amzn-Requestid":       {"internal"},
		"Date":                   {"Mon, 01 Jan 2025 00:00:00 GMT"},
		"X-Content-Type-Options": {"nosniff"},
	}

	dst := s.filterResponseHeaders(src)

	tests := []struct {
		name    string
		key     string
		wantLen int
	}{
		{"Content-Type forwarded", "Content-Type", 1},
		{"Content-Length forwarded", "Content-Length", 1},
		{"Date forwarded", "Date", 1},
		{"X-Session-Id forwarded", "X-Session-Id", 1},
		{"Set-Cookie stripped", "Set-Cookie", 0},
		{"X-Amzn-Requestid stripped", "X-Amzn-Requestid", 0},
		{"X-Content-Type-Options stripped", "X-Content-Type-Options", 0},
		{"Transfer-Encoding stripped (hop-by-hop)", "Transfer-Encoding", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(dst.Values(tt.key)); got != tt.wantLen {
				t.Errorf("header %q: got %d values, want %d", tt.key, got, tt.wantLen)
			}
		})
	}
}

func TestBuildOriginURL(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		path     string
		rawQuery string
		want     string
	}{
		{"root origin", "https://abc.on.aws", "/api/review", "", "https://abc.on.aws/api/review"},
		{"origin with base path", "https://abc.on.aws/prod/", "/api/review", "", "https://abc.on.aws/prod/api/review"},
		{"query preserved", "https://abc.on.aws", "/status", "verbose=1&x=y", "https://abc.on.aws/status?verbose=1&x=y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, _ := url.Parse(tt.base)
			s := &GatewayService{baseURL: base}
			if got := s.buildOriginURL(tt.path, tt.rawQuery); got != tt.want {
				t.Errorf("buildOriginURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestToEdgeRequest(t *testing.T) {
	gr := &model.GatewayRequest{
		Method: http.MethodPost,
		Path:   "/api/review",
		Host:   "reviews.example.com",
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   []byte(`{"content":"日本語"}`),
	}
	req := toEdgeRequest(gr)
	if req.Host() != "reviews.example.com" {
		t.Errorf("Host() = %q", req.Host())
	}
	if req.Headers.Get("content-type") != "application/json" {
		t.Errorf("content-type = %q", req.Headers.Get("content-type"))
	}
	if req.Body == nil || req.Body.Encoding != edge.EncodingText || req.Body.Data != string(gr.Body) {
		t.Errorf("body = %+v, want text body", req.Body)
	}

	gr.Body = []byte{0xff, 0xfe, 0x00}
	req = toEdgeRequest(gr)
	if req.Body.Encoding != edge.EncodingBase64 || req.Body.Data != base64.StdEncoding.EncodeToString(gr.Body) {
		t.Errorf("body = %+v, want base64 body", req.Body)
	}

	gr.Body = nil
	if req = toEdgeRequest(gr); req.Body != nil {
		t.Errorf("body = %+v, want nil", req.Body)
	}
}

func TestForward_StampsSignatureContext(t *testing.T) {
	body := []byte(`{"content":"please review"}`)
	wantHash := client.PayloadHash(body)

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Original-Host"); got != "reviews.example.com" {
			t.Errorf("X-Original-Host = %q, want %q", got, "reviews.example.com")
		}
		if got := r.Header.Get("X-Amz-Content-Sha256"); got != wantHash {
			t.Errorf("X-Amz-Content-Sha256 = %q, want %q", got, wantHash)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("Authorization should not be forwarded")
		}
		if r.Host == "reviews.example.com" {
			t.Error("Host should be the origin's, not the viewer's")
		}
		if r.URL.RawQuery != "lang=ja" {
			t.Errorf("query = %q, want %q", r.URL.RawQuery, "lang=ja")
		}
		got, _ := io.ReadAll(r.Body)
		if string(got) != string(body) {
			t.Errorf("body = %q, want %q", got, body)
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Set-Cookie", "session=abc")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Overall, this is well written."))
	}))
	defer origin.Close()

	svc, m := newTestService(t, origin.URL)

	resp, err := svc.Forward(&model.GatewayRequest{
		Ctx:      context.Background(),
		Method:   http.MethodPost,
		Path:     "/api/review",
		RawQuery: "lang=ja",
		Host:     "reviews.example.com",
		Header: http.Header{
			"Content-Type":         {"application/json"},
			"Authorization":        {"Bearer viewer-token"},
			"X-Amz-Content-Sha256": {"stale"},
		},
		Body: body,
	})
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	got, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "Overall, this is well written." {
		t.Errorf("body = %q", got)
	}
	if resp.Header.Get("Set-Cookie") != "" {
		t.Errorf("Set-Cookie should be stripped, got %q", resp.Header.Get("Set-Cookie"))
	}
	if n := testutil.ToFloat64(m.Normalizations.WithLabelValues("reencoded")); n != 1 {
		t.Errorf("reencoded normalizations = %v, want 1", n)
	}
}

func TestForward_BinaryBodyHashedFromBase64(t *testing.T) {
	body := []byte{0x00, 0xff, 0x10, 0x80}
	wantHash := client.PayloadHash(body)

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Amz-Content-Sha256"); got != wantHash {
			t.Errorf("X-Amz-Content-Sha256 = %q, want %q", got, wantHash)
		}
		got, _ := io.ReadAll(r.Body)
		if string(got) != string(body) {
			t.Errorf("body = %x, want %x", got, body)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer origin.Close()

	svc, m := newTestService(t, origin.URL)
	resp, err := svc.Forward(&model.GatewayRequest{
		Ctx:    context.Background(),
		Method: http.MethodPut,
		Path:   "/upload",
		Host:   "reviews.example.com",
		Header: http.Header{},
		Body:   body,
	})
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	_ = resp.Body.Close()

	if n := testutil.ToFloat64(m.Normalizations.WithLabelValues("hashed")); n != 1 {
		t.Errorf("hashed normalizations = %v, want 1", n)
	}
}

func TestForward_NoBodyNoHash(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Amz-Content-Sha256"); got != "" {
			t.Errorf("X-Amz-Content-Sha256 = %q, want none", got)
		}
		if got := r.Header.Get("X-Original-Host"); got != "reviews.example.com" {
			t.Errorf("X-Original-Host = %q", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer origin.Close()

	svc, m := newTestService(t, origin.URL)
	resp, err := svc.Forward(&model.GatewayRequest{
		Ctx:    context.Background(),
		Method: http.MethodGet,
		Path:   "/status",
		Host:   "reviews.example.com",
		Header: http.Header{},
	})
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	_ = resp.Body.Close()

	if n := testutil.ToFloat64(m.Normalizations.WithLabelValues("no_body")); n != 1 {
		t.Errorf("no_body normalizations = %v, want 1", n)
	}
}

func TestPayloadHash(t *testing.T) {
	hashed := edge.Request{Headers: edge.Headers{edge.HeaderContentSHA256: {"abc123"}}}
	tests := []struct {
		name    string
		req     edge.Request
		outcome edge.Outcome
		want    string
	}{
		{"hashed body signs the stamped hash", hashed, edge.OutcomeHashed, "abc123"},
		{"reencoded body signs the stamped hash", hashed, edge.OutcomeReencoded, "abc123"},
		{"no body leaves hashing to the client", edge.Request{Headers: edge.Headers{}}, edge.OutcomeNoBody, ""},
		{"skipped body is not signed", edge.Request{Headers: edge.Headers{}}, edge.OutcomeSkipped, client.UnsignedPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := payloadHash(tt.req, tt.outcome); got != tt.want {
				t.Errorf("payloadHash() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestForward_SkippedBodyForwardedUnchanged(t *testing.T) {
	raw := []byte("hello")
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-Amz-Content-Sha256")
		if got != "" && got != client.UnsignedPayload {
			t.Errorf("X-Amz-Content-Sha256 = %q, want none for a skipped body", got)
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "AWS4-HMAC-SHA256 ") {
			t.Errorf("Authorization = %q, want a SigV4 signature", r.Header.Get("Authorization"))
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != string(raw) {
			t.Errorf("body = %q, want %q", body, raw)
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer origin.Close()

	cfg := &config.Config{Edge: config.EdgeConfig{OriginURL: origin.URL, TimeoutSeconds: 10, IdleConnections: 10}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	creds := aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{AccessKeyID: "AKIDEXAMPLE", SecretAccessKey: "secret"}, nil
	})
	signer, err := client.NewSigner(creds, "lambda", "ap-northeast-1")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	m := metrics.New()
	svc, err := NewGatewayServiceForTest(client.NewOriginClient(cfg, signer, logger, m), cfg, logger, m)
	if err != nil {
		t.Fatalf("NewGatewayServiceForTest: %v", err)
	}

	gr := &model.GatewayRequest{
		Ctx:    context.Background(),
		Method: http.MethodPost,
		Path:   "/api/review",
		Host:   "reviews.example.com",
		Header: http.Header{},
		Body:   raw,
	}
	req := edge.Request{
		Method:  gr.Method,
		URI:     gr.Path,
		Headers: edge.Headers{edge.HeaderHost: {"reviews.example.com"}},
		Body: &edge.Body{
			Data:      base64.StdEncoding.EncodeToString(raw),
			Encoding:  edge.EncodingBase64,
			Truncated: true,
		},
	}

	resp, err := svc.forward(gr, edge.RewriteHost(req))
	if err != nil {
		t.Fatalf("forward() error = %v", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want the origin's %d", resp.StatusCode, http.StatusForbidden)
	}
	if n := testutil.ToFloat64(m.Normalizations.WithLabelValues("skipped")); n != 1 {
		t.Errorf("skipped normalizations = %v, want 1", n)
	}
}

func TestNewGatewayService_RejectsNonFunctionURL(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		Edge: config.EdgeConfig{OriginURL: "https://evil.com", SigningService: "lambda"},
	}
	if _, err := NewGatewayService(nil, cfg, logger, nil); err == nil {
		t.Fatal("NewGatewayService() expected error for non Function URL host, got nil")
	}
}

func TestNewGatewayService_AcceptsFunctionURL(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		Edge: config.EdgeConfig{
			OriginURL:      "https://abc123.lambda-url.ap-northeast-1.on.aws",
			SigningService: "lambda",
		},
	}
	svc, err := NewGatewayService(nil, cfg, logger, nil)
	if err != nil {
		t.Fatalf("NewGatewayService() error = %v", err)
	}
	if svc == nil {
		t.Fatal("NewGatewayService() returned nil service")
	}
}

func TestNewGatewayService_NoOrigin(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := NewGatewayService(nil, &config.Config{}, logger, nil); err != ErrNoOrigin {
		t.Fatalf("NewGatewayService() error = %v, want ErrNoOrigin", err)
	}
}
