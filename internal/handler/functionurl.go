package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"review-gateway/internal/edge"
	"review-gateway/internal/relay"
)

// FunctionURLHandler serves the review endpoint as a Lambda Function URL
// handler in RESPONSE_STREAM invoke mode.
type FunctionURLHandler struct {
	relay  *relay.Relay
	logger *slog.Logger
}

// NewFunctionURLHandler creates a FunctionURLHandler.
func NewFunctionURLHandler(r *relay.Relay, logger *slog.Logger) *FunctionURLHandler {
	return &FunctionURLHandler{
		relay:  r,
		logger: logger.With("component", "function_url_handler"),
	}
}

// Handle answers one Function URL invocation. Only POST is served; the path
// is not inspected since the URL is dedicated to the review endpoint.
//
// The streamed body is an io.Pipe fed by a goroutine. A relay failure closes
// the pipe with the error, which the Lambda runtime reports as a broken
// stream rather than a complete response.
func (h *FunctionURLHandler) Handle(ctx context.Context, req events.LambdaFunctionURLRequest) (*events.LambdaFunctionURLStreamingResponse, error) {
	if req.RequestContext.HTTP.Method != http.MethodPost {
		return jsonResponse(http.StatusMethodNotAllowed, "method not allowed"), nil
	}

	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return jsonResponse(http.StatusBadRequest, "could not read request body"), nil
		}
		body = decoded
	}

	prompt, err := relay.ParsePrompt(body)
	if err != nil {
		status, msg := errorResponse(err)
		return jsonResponse(status, msg), nil
	}

	session, err := h.relay.Open(ctx, prompt, relay.Metadata{
		OriginalHost: req.Headers[edge.HeaderOriginalHost],
		RequestID:    req.RequestContext.RequestID,
	})
	if err != nil {
		h.logger.Error("review failed", "err", err)
		status, msg := errorResponse(err)
		return jsonResponse(status, msg), nil
	}

	pr, pw := io.Pipe()
	go func() {
		if err := session.Relay(ctx, pw); err != nil {
			h.logger.Warn("review stream aborted", "session_id", session.ID, "err", err)
			_ = pw.CloseWithError(err)
			return
		}
		_ = pw.Close()
	}()

	header := http.Header{}
	setStreamHeaders(header, session.ID)
	// The Function URL frames the stream itself.
	header.Del("Transfer-Encoding")

	return &events.LambdaFunctionURLStreamingResponse{
		StatusCode: http.StatusOK,
		Headers:    flattenHeader(header),
		Body:       pr,
	}, nil
}

func jsonResponse(status int, msg string) *events.LambdaFunctionURLStreamingResponse {
	payload, _ := json.Marshal(map[string]string{"error": msg})
	return &events.LambdaFunctionURLStreamingResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       bytes.NewReader(payload),
	}
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for key := range h {
		out[key] = h.Get(key)
	}
	return out
}
