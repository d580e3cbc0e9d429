package domain

import "time"

// SessionRecord is the persisted outcome of one relay session.
type SessionRecord struct {
	SessionID    string
	RequestID    string
	OriginalHost string
	Status       string
	Reason       string
	Chunks       int
	Bytes        int64
	StartedAt    time.Time
	EndedAt      time.Time
}
