package handler

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"review-gateway/internal/client"
	"review-gateway/internal/config"
	"review-gateway/internal/domain"
	"review-gateway/internal/metrics"
	"review-gateway/internal/relay"
	"review-gateway/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStream yields its chunks and then err.
type fakeStream struct {
	ch  chan domain.Chunk
	err error
}

func newFakeStream(err error, chunks ...string) *fakeStream {
	ch := make(chan domain.Chunk, len(chunks))
	for _, c := range chunks {
		ch <- domain.Chunk{Bytes: []byte(c)}
	}
	close(ch)
	return &fakeStream{ch: ch, err: err}
}

func (f *fakeStream) Chunks() <-chan domain.Chunk { return f.ch }
func (f *fakeStream) Err() error                  { return f.err }
func (f *fakeStream) Close() error                { return nil }

type fakeAgent struct {
	stream domain.ChunkStream
	err    error
	calls  int
}

func (f *fakeAgent) Invoke(context.Context, string, string) (domain.ChunkStream, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.stream, nil
}

func newTestRelay(t *testing.T, agent relay.Agent) *relay.Relay {
	t.Helper()
	r, err := relay.New(agent, metrics.New(), discardLogger())
	if err != nil {
		t.Fatalf("relay.New: %v", err)
	}
	return r
}

func validBody() string {
	return `{"content":"` + strings.Repeat("Please review this essay. ", 5) + `"}`
}

// newTestGatewayService creates a GatewayService that accepts any origin host (for httptest).
func newTestGatewayService(t *testing.T, originURL string, timeout int) *service.GatewayService {
	t.Helper()
	cfg := &config.Config{
		Edge: config.EdgeConfig{
			OriginURL:       originURL,
			TimeoutSeconds:  timeout,
			IdleConnections: 10,
		},
	}
	logger := discardLogger()
	oc := client.NewOriginClient(cfg, nil, logger, nil)
	svc, err := service.NewGatewayServiceForTest(oc, cfg, logger, nil)
	if err != nil {
		t.Fatalf("NewGatewayServiceForTest: %v", err)
	}
	return svc
}
