package relay

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// Prompt bounds, counted in characters (runes), not bytes.
const (
	MinPromptChars = 100
	MaxPromptChars = 5000
)

type reviewRequest struct {
	Content json.RawMessage `json:"content"`
}

// ParsePrompt extracts the review content from a `{"content": string}` body.
// It returns an *Error with code ErrorInvalidInput when the body is empty,
// not a JSON object, lacks a string content field, or the content is out of
// bounds.
func ParsePrompt(body []byte) (string, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return "", newError(ErrorInvalidInput, "empty_body", nil)
	}

	var req reviewRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return "", newError(ErrorInvalidInput, "malformed_body", err)
	}
	if len(req.Content) == 0 || bytes.Equal(req.Content, []byte("null")) {
		return "", newError(ErrorInvalidInput, "missing_content", nil)
	}

	var content string
	if err := json.Unmarshal(req.Content, &content); err != nil {
		return "", newError(ErrorInvalidInput, "content_not_string", nil)
	}
	if err := validatePrompt(content); err != nil {
		return "", err
	}
	return content, nil
}

func validatePrompt(prompt string) *Error {
	if strings.TrimSpace(prompt) == "" {
		return newError(ErrorInvalidInput, "missing_content", nil)
	}
	n := utf8.RuneCountInString(prompt)
	if n < MinPromptChars {
		return newError(ErrorInvalidInput, "content_too_short", nil)
	}
	if n > MaxPromptChars {
		return newError(ErrorInvalidInput, "content_too_long", nil)
	}
	return nil
}
