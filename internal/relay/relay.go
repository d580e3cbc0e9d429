// Package relay turns a review prompt into an agent session and copies the
// agent's answer to a client writer chunk by chunk, as it arrives.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"review-gateway/internal/domain"
	"review-gateway/internal/metrics"
)

// recordTimeout bounds the session record write once the client is done.
const recordTimeout = 5 * time.Second

// Agent starts one agent invocation. *agent.Client satisfies this interface.
type Agent interface {
	Invoke(ctx context.Context, prompt, sessionID string) (domain.ChunkStream, error)
}

// Recorder persists finished sessions. *repository.SessionStore satisfies
// this interface.
type Recorder interface {
	RecordSession(ctx context.Context, rec domain.SessionRecord) error
}

// Relay opens sessions against a single agent.
type Relay struct {
	agent      Agent
	recorder   Recorder
	metrics    *metrics.Metrics
	logger     *slog.Logger
	chunkDelay time.Duration

	newSessionID func() string
	now          func() time.Time
}

type Option func(*Relay)

// WithRecorder persists a record of every session that reaches a terminal state.
func WithRecorder(rec Recorder) Option {
	return func(r *Relay) {
		r.recorder = rec
	}
}

// WithChunkDelay pauses after each relayed chunk. Zero disables pacing.
func WithChunkDelay(d time.Duration) Option {
	return func(r *Relay) {
		r.chunkDelay = d
	}
}

// New creates a Relay.
func New(agent Agent, m *metrics.Metrics, logger *slog.Logger, opts ...Option) (*Relay, error) {
	if agent == nil {
		return nil, errors.New("relay: agent must not be nil")
	}
	if m == nil {
		return nil, errors.New("relay: metrics must not be nil")
	}
	r := &Relay{
		agent:        agent,
		metrics:      m,
		logger:       logger.With("component", "relay"),
		newSessionID: uuid.NewString,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.chunkDelay < 0 {
		r.chunkDelay = 0
	}
	return r, nil
}

// Metadata describes the inbound request a session serves.
type Metadata struct {
	OriginalHost string
	RequestID    string
}

// Open validates prompt and invokes the agent under a fresh session id.
//
// An invalid prompt returns an ErrorInvalidInput *Error without contacting
// the agent. An invocation failure returns ErrorUpstream; it is not retried.
// On success the returned Session is in StateInvoking and the caller must
// call Relay exactly once.
func (r *Relay) Open(ctx context.Context, prompt string, meta Metadata) (*Session, error) {
	if err := validatePrompt(prompt); err != nil {
		return nil, err
	}

	s := &Session{
		ID:        r.newSessionID(),
		relay:     r,
		meta:      meta,
		startedAt: r.now(),
	}
	if err := s.transition(StateInvoking); err != nil {
		return nil, newError(ErrorInternal, "session_state", err)
	}

	start := time.Now()
	stream, err := r.agent.Invoke(ctx, prompt, s.ID)
	r.metrics.AgentInvokeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.finish(ctx, StateAborted, "agent_invoke_failed")
		return nil, newError(ErrorUpstream, "agent_invoke_failed", err)
	}
	s.stream = stream

	r.logger.Debug("session opened",
		"session_id", s.ID,
		"request_id", meta.RequestID,
	)
	return s, nil
}
