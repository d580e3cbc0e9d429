package edge

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// Outcome describes what NormalizeContentHash did to a request.
type Outcome string

const (
	OutcomeNoBody    Outcome = "no_body"
	OutcomeHashed    Outcome = "hashed"
	OutcomeReencoded Outcome = "reencoded"
	OutcomeSkipped   Outcome = "skipped"
)

// NormalizeContentHash canonicalises the body to base64 and stamps
// x-amz-content-sha256 with the SHA-256 of the decoded bytes.
//
// Bodiless requests are returned untouched. When the body cannot be read
// (bad base64, truncated payload) the original request is returned as is and
// the origin's own signature check becomes the failure point. An existing
// hash header is always recomputed.
func NormalizeContentHash(req Request) (Request, Outcome) {
	if !req.HasBody() {
		return req, OutcomeNoBody
	}
	if req.Body.Truncated {
		return req, OutcomeSkipped
	}

	raw, err := req.Body.Bytes()
	if err != nil {
		return req, OutcomeSkipped
	}

	out := req.clone()
	outcome := OutcomeHashed
	if req.Body.isBase64() {
		out.Body.Encoding = EncodingBase64
	} else {
		out.Body.Data = base64.StdEncoding.EncodeToString(raw)
		out.Body.Encoding = EncodingBase64
		out.Body.Replaced = true
		outcome = OutcomeReencoded
	}

	sum := sha256.Sum256(raw)
	out.Headers.Set(HeaderContentSHA256, hex.EncodeToString(sum[:]))
	return out, outcome
}
