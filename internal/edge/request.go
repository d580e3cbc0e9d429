// Package edge implements the request transforms that run between the CDN
// ingress and the signature-checking origin: the viewer-stage host rewrite
// and the origin-stage content-hash normalizer.
//
// Both stages are pure functions over Request. The transport that hosts them
// builds one Request per inbound call and threads it through the stages in
// order, so the bytes the origin stage hashes are the bytes that get sent.
package edge

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Header names consumed by the origin's signature check.
const (
	HeaderHost          = "host"
	HeaderOriginalHost  = "x-original-host"
	HeaderContentSHA256 = "x-amz-content-sha256"
)

// Encoding is the declared encoding of a request body.
type Encoding string

const (
	EncodingBase64 Encoding = "base64"
	EncodingText   Encoding = "text"
)

// Headers maps lowercase header names to their values.
type Headers map[string][]string

// Get returns the first value for name, or "".
func (h Headers) Get(name string) string {
	vals := h[strings.ToLower(name)]
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// Set replaces all values for name with value.
func (h Headers) Set(name, value string) {
	h[strings.ToLower(name)] = []string{value}
}

// Add appends value to name.
func (h Headers) Add(name, value string) {
	key := strings.ToLower(name)
	h[key] = append(h[key], value)
}

// Clone returns a deep copy of h. A nil receiver yields an empty map.
func (h Headers) Clone() Headers {
	out := make(Headers, len(h)+1)
	for k, vals := range h {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

// Body is a request payload together with its declared encoding.
type Body struct {
	Data     string
	Encoding Encoding

	// Truncated is set by the transport when Data holds only a prefix of the
	// payload. A truncated body is never hashed.
	Truncated bool

	// Replaced reports that a stage rewrote Data or Encoding.
	Replaced bool
}

// Bytes decodes Data according to Encoding. An empty encoding is base64,
// which is what CloudFront hands to edge functions.
func (b *Body) Bytes() ([]byte, error) {
	if b == nil {
		return nil, nil
	}
	if b.isBase64() {
		raw, err := base64.StdEncoding.DecodeString(b.Data)
		if err != nil {
			return nil, fmt.Errorf("edge: decode base64 body: %w", err)
		}
		return raw, nil
	}
	return []byte(b.Data), nil
}

func (b *Body) isBase64() bool {
	return b.Encoding == "" || b.Encoding == EncodingBase64
}

// Request is the transport-neutral view of an HTTP request seen by the
// edge stages.
type Request struct {
	Method  string
	URI     string
	Query   string
	Headers Headers
	Body    *Body
}

// Host returns the Host header value.
func (r Request) Host() string {
	return r.Headers.Get(HeaderHost)
}

// HasBody reports whether the request carries a non-empty payload.
func (r Request) HasBody() bool {
	return r.Body != nil && r.Body.Data != ""
}

func (r Request) clone() Request {
	out := r
	out.Headers = r.Headers.Clone()
	if r.Body != nil {
		b := *r.Body
		out.Body = &b
	}
	return out
}
