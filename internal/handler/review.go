package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"review-gateway/internal/edge"
	"review-gateway/internal/relay"
)

// ReviewHandler serves the streaming review endpoint.
type ReviewHandler struct {
	relay  *relay.Relay
	logger *slog.Logger
}

// NewReviewHandler creates a ReviewHandler.
func NewReviewHandler(r *relay.Relay, logger *slog.Logger) *ReviewHandler {
	return &ReviewHandler{
		relay:  r,
		logger: logger.With("component", "review_handler"),
	}
}

// Review validates the prompt, opens an agent session and streams the answer
// as chunked plain text. Validation and invocation failures are answered with
// a JSON error before any byte of the stream is sent. A failure after the
// stream has started aborts the connection instead, so the client sees a
// broken transfer rather than a short but well-formed body.
func (h *ReviewHandler) Review(c echo.Context) error {
	req := c.Request()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "could not read request body",
		})
	}

	prompt, err := relay.ParsePrompt(body)
	if err != nil {
		return h.mapError(c, err)
	}

	res := c.Response()
	session, err := h.relay.Open(req.Context(), prompt, relay.Metadata{
		OriginalHost: req.Header.Get(edge.HeaderOriginalHost),
		RequestID:    res.Header().Get(echo.HeaderXRequestID),
	})
	if err != nil {
		return h.mapError(c, err)
	}

	setStreamHeaders(res.Header(), session.ID)
	res.WriteHeader(http.StatusOK)
	res.Flush()

	if err := session.Relay(req.Context(), res); err != nil {
		h.logger.Warn("review stream aborted",
			"session_id", session.ID,
			"err", err,
		)
		panic(http.ErrAbortHandler)
	}
	return nil
}

func setStreamHeaders(h http.Header, sessionID string) {
	h.Set(echo.HeaderContentType, "text/plain; charset=utf-8")
	h.Set("Transfer-Encoding", "chunked")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Session-Id", sessionID)
}

func (h *ReviewHandler) mapError(c echo.Context, err error) error {
	status, msg := errorResponse(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("review failed", "err", err, "path", c.Request().URL.Path)
	} else {
		h.logger.Debug("review rejected", "err", err, "path", c.Request().URL.Path)
	}
	return c.JSON(status, map[string]string{"error": msg})
}

// errorResponse maps a relay error to an HTTP status and client message.
func errorResponse(err error) (int, string) {
	var relayErr *relay.Error
	if !errors.As(err, &relayErr) {
		return http.StatusInternalServerError, "internal error"
	}

	switch relayErr.Code {
	case relay.ErrorInvalidInput:
		switch relayErr.Reason {
		case "content_too_short":
			return http.StatusBadRequest, fmt.Sprintf("content must be at least %d characters", relay.MinPromptChars)
		case "content_too_long":
			return http.StatusBadRequest, fmt.Sprintf("content must be at most %d characters", relay.MaxPromptChars)
		case "empty_body", "malformed_body":
			return http.StatusBadRequest, "request body must be a JSON object"
		default:
			return http.StatusBadRequest, "content is required and must be a string"
		}
	case relay.ErrorUpstream:
		return http.StatusInternalServerError, "failed to generate review"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
