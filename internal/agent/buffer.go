package agent

import (
	"strings"
	"sync"
)

// StreamBuffer collects streamed model text until a tool call or the end of
// the turn takes it. Append runs on the provider's stream goroutine.
type StreamBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func NewStreamBuffer() *StreamBuffer {
	return &StreamBuffer{}
}

func (b *StreamBuffer) Append(delta string) {
	if delta == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf.WriteString(delta)
}

// Drain returns the buffered text and clears the buffer
func (b *StreamBuffer) Drain() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	text := b.buf.String()
	b.buf.Reset()

	return text
}
