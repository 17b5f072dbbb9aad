package stream

import (
	"sync"

	"github.com/nupi-ai/plugin-stt-local-voxtral/internal/engine"
)

// Queue is the FIFO of committed tokens waiting for the host. Each token is
// delivered exactly once.
type Queue struct {
	mu        sync.Mutex
	items     []engine.Token
	delivered uint64
}

// Push appends tokens in order.
func (q *Queue) Push(tokens ...engine.Token) {
	if len(tokens) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, tokens...)
	q.mu.Unlock()
}

// Drain moves up to len(dst) token strings into dst and returns how many
// were copied.
func (q *Queue) Drain(dst []string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := min(len(dst), len(q.items))
	for i := 0; i < n; i++ {
		dst[i] = q.items[i].Text
	}
	q.consume(n)
	return n
}

// DrainTokens removes and returns up to limit tokens. A negative limit
// drains everything.
func (q *Queue) DrainTokens(limit int) []engine.Token {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	if limit >= 0 && limit < n {
		n = limit
	}
	if n == 0 {
		return nil
	}
	out := append([]engine.Token(nil), q.items[:n]...)
	q.consume(n)
	return out
}

func (q *Queue) consume(n int) {
	if n == 0 {
		return
	}
	rest := copy(q.items, q.items[n:])
	clear(q.items[rest:])
	q.items = q.items[:rest]
	q.delivered += uint64(n)
}

// Len returns the number of queued tokens.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Delivered returns how many tokens have left the queue.
func (q *Queue) Delivered() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.delivered
}

// Reset discards queued tokens.
func (q *Queue) Reset() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}
