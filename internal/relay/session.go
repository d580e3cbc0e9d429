package relay

import (
	"context"
	"io"
	"net/http"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"review-gateway/internal/domain"
)

// Session is one review request's agent stream and its lifecycle. A Session
// is owned by the goroutine serving the request and is not safe for
// concurrent use.
type Session struct {
	ID string

	relay     *Relay
	stream    domain.ChunkStream
	out       *flushWriter
	meta      Metadata
	state     State
	startedAt time.Time
	chunks    int
	bytes     int64
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state
}

func (s *Session) transition(to State) error {
	if !s.state.canTransition(to) {
		return &transitionError{from: s.state, to: to}
	}
	s.state = to
	return nil
}

// Relay copies the agent's answer to w until the agent finishes, the agent
// stream fails, a write fails or ctx is cancelled. Each chunk is decoded as
// UTF-8 and written as soon as it arrives; if w is an http.Flusher it is
// flushed after every write. A multi-byte character split across chunks is
// held back until it is complete. Invalid sequences become U+FFFD.
//
// A nil return means the answer was relayed in full. Otherwise the error is
// an ErrorStreamAborted *Error and the caller must terminate the response
// abnormally; nothing is written to w after the failure.
func (s *Session) Relay(ctx context.Context, w io.Writer) error {
	if s.state != StateInvoking || s.stream == nil {
		return newError(ErrorInternal, "session_not_open", &transitionError{from: s.state, to: StateStreaming})
	}
	defer func() {
		_ = s.stream.Close()
	}()

	s.out = &flushWriter{w: w}
	if f, ok := w.(http.Flusher); ok {
		s.out.flusher = f
	}
	dec := transform.NewWriter(s.out, unicode.UTF8.NewDecoder())

	chunks := s.stream.Chunks()
	for {
		select {
		case <-ctx.Done():
			return s.abort(ctx, "client_disconnected", ctx.Err())

		case chunk, ok := <-chunks:
			if !ok {
				if err := s.stream.Err(); err != nil {
					return s.abort(ctx, "agent_stream_failed", err)
				}
				if err := dec.Close(); err != nil {
					return s.abort(ctx, "write_failed", err)
				}
				s.finish(ctx, StateCompleted, "")
				return nil
			}
			if len(chunk.Bytes) == 0 {
				continue
			}
			if s.state == StateInvoking {
				if err := s.transition(StateStreaming); err != nil {
					return s.abort(ctx, "session_state", err)
				}
			}
			if _, err := dec.Write(chunk.Bytes); err != nil {
				return s.abort(ctx, "write_failed", err)
			}
			s.chunks++
			s.relay.metrics.ChunksRelayed.Inc()

			if err := s.pace(ctx); err != nil {
				return s.abort(ctx, "client_disconnected", err)
			}
		}
	}
}

func (s *Session) pace(ctx context.Context) error {
	if s.relay.chunkDelay <= 0 {
		return nil
	}
	t := time.NewTimer(s.relay.chunkDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Session) abort(ctx context.Context, reason string, err error) error {
	s.finish(ctx, StateAborted, reason)
	return newError(ErrorStreamAborted, reason, err)
}

// finish moves the session to a terminal state, records metrics and writes
// the session record. A session already in a terminal state is left as is.
func (s *Session) finish(ctx context.Context, to State, reason string) {
	r := s.relay
	if err := s.transition(to); err != nil {
		r.logger.Warn("session state", "session_id", s.ID, "error", err)
		return
	}

	if s.out != nil {
		s.bytes = s.out.n
	}
	ended := r.now()
	elapsed := ended.Sub(s.startedAt)
	r.metrics.SessionsTotal.WithLabelValues(to.String()).Inc()
	r.metrics.SessionDuration.WithLabelValues(to.String()).Observe(elapsed.Seconds())
	r.metrics.BytesRelayed.Add(float64(s.bytes))

	attrs := []any{
		"session_id", s.ID,
		"request_id", s.meta.RequestID,
		"state", to.String(),
		"chunks", s.chunks,
		"bytes", s.bytes,
		"duration_ms", elapsed.Milliseconds(),
	}
	if reason != "" {
		attrs = append(attrs, "reason", reason)
		r.logger.Warn("session aborted", attrs...)
	} else {
		r.logger.Info("session completed", attrs...)
	}

	if r.recorder == nil {
		return
	}
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	err := r.recorder.RecordSession(recCtx, domain.SessionRecord{
		SessionID:    s.ID,
		RequestID:    s.meta.RequestID,
		OriginalHost: s.meta.OriginalHost,
		Status:       to.String(),
		Reason:       reason,
		Chunks:       s.chunks,
		Bytes:        s.bytes,
		StartedAt:    s.startedAt,
		EndedAt:      ended,
	})
	if err != nil {
		r.logger.Warn("session record failed", "session_id", s.ID, "error", err)
	}
}

// flushWriter flushes after every successful write and counts bytes written.
type flushWriter struct {
	w       io.Writer
	flusher http.Flusher
	n       int64
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := fw.w.Write(p)
	fw.n += int64(n)
	if err != nil {
		return n, err
	}
	if fw.flusher != nil {
		fw.flusher.Flush()
	}
	return n, nil
}
