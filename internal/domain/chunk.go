package domain

// Chunk is one piece of an agent's incrementally produced answer. A chunk
// with no Bytes is valid and carries nothing to relay.
type Chunk struct {
	Bytes []byte
}

// ChunkStream is an in-order sequence of chunks from one agent invocation.
//
// Chunks is closed when the sequence ends, cleanly or not; Err reports the
// failure, if any, once Chunks is closed. Close releases the underlying
// connection and may be called more than once.
type ChunkStream interface {
	Chunks() <-chan Chunk
	Err() error
	Close() error
}
