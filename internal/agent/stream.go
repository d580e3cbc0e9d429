package agent

import (
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"

	"review-gateway/internal/domain"
)

// stream adapts an InvokeAgent event stream to domain.ChunkStream.
//
// Only completion chunks are forwarded; trace, return-control and file events
// are dropped. The chunk channel is unbuffered so a slow consumer holds the
// pump, and through it the SDK's event reader.
type stream struct {
	src    eventSource
	chunks chan domain.Chunk
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error

	// err is written before chunks is closed and read only after.
	err error
}

func newStream(src eventSource) *stream {
	s := &stream{
		src:    src,
		chunks: make(chan domain.Chunk),
		done:   make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *stream) pump() {
	defer close(s.chunks)

	events := s.src.Events()
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-events:
			if !ok {
				s.err = s.src.Err()
				return
			}
			part, ok := ev.(*types.ResponseStreamMemberChunk)
			if !ok {
				continue
			}
			select {
			case s.chunks <- domain.Chunk{Bytes: part.Value.Bytes}:
			case <-s.done:
				return
			}
		}
	}
}

func (s *stream) Chunks() <-chan domain.Chunk {
	return s.chunks
}

func (s *stream) Err() error {
	return s.err
}

func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.closeErr = s.src.Close()
	})
	return s.closeErr
}
