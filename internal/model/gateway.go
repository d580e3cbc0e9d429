// Package model defines shared types for the edge gateway.
package model

import (
	"context"
	"io"
	"net/http"
)

// GatewayRequest is a viewer request received by the edge gateway, with its
// body already read.
type GatewayRequest struct {
	Ctx      context.Context
	Method   string
	Path     string
	RawQuery string
	Host     string
	Header   http.Header
	Body     []byte
}

// OriginResponse is the origin's answer to be streamed back to the viewer.
type OriginResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
