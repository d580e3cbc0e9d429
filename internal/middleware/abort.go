package middleware

import (
	"errors"
	"net/http"
)

// statusAborted labels a response cut off after its headers were sent.
const statusAborted = "aborted"

// isAbort reports whether a recovered panic value is http.ErrAbortHandler,
// the signal a streaming handler uses to drop the connection mid-body.
func isAbort(r any) bool {
	err, ok := r.(error)
	return ok && errors.Is(err, http.ErrAbortHandler)
}
