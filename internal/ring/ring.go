// Package ring provides the bounded sample buffer that sits between a
// session's Feed calls and its chunker.
package ring

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Write after CloseWrite.
var ErrClosed = errors.New("ring: write to closed buffer")

// Buffer is a thread-safe ring buffer that overwrites the oldest unread data
// when full. Writes never block and reads never wait for data.
//
// Read and write cursors are absolute element positions since creation, so
// callers can detect discontinuities after an overrun by comparing the start
// position returned by Read with the position they expected.
type Buffer[T any] struct {
	mu         sync.Mutex
	buf        []T
	head, tail int64
	closeWrite bool

	overruns int64
	dropped  int64
}

// New creates a Buffer holding at most size elements.
func New[T any](size int) *Buffer[T] {
	if size <= 0 {
		size = 1
	}
	return &Buffer[T]{buf: make([]T, size)}
}

// Write copies p into the buffer. When p does not fit, the oldest unread
// elements are discarded and counted as an overrun. It returns the number of
// elements discarded by this call.
func (b *Buffer[T]) Write(p []T) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closeWrite {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	size := int64(len(b.buf))
	n := int64(len(p))
	used := b.tail - b.head

	var dropped int64
	if n >= size {
		// Only the newest size elements survive.
		dropped = used + n - size
		p = p[n-size:]
		b.tail += n - size
		b.head = b.tail
		n = size
	} else if used+n > size {
		dropped = used + n - size
		b.head += dropped
	}

	start := int(b.tail % size)
	c := copy(b.buf[start:], p)
	copy(b.buf, p[c:])
	b.tail += n

	if dropped > 0 {
		b.overruns++
		b.dropped += dropped
	}
	return int(dropped), nil
}

// Read copies up to len(p) unread elements into p and advances the read
// cursor. It returns the number of elements copied and the absolute position
// of the first one. Read never blocks; n is zero when the buffer is empty.
func (b *Buffer[T]) Read(p []T) (n int, start int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	start = b.head
	avail := int(b.tail - b.head)
	if avail == 0 || len(p) == 0 {
		return 0, start
	}
	if len(p) > avail {
		p = p[:avail]
	}

	head := int(b.head % int64(len(b.buf)))
	n = copy(p, b.buf[head:])
	if n < len(p) {
		n += copy(p[n:], b.buf[:len(p)-n])
	}
	b.head += int64(n)
	return n, start
}

// Len returns the number of unread elements.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int(b.tail - b.head)
}

// Cap returns the buffer capacity.
func (b *Buffer[T]) Cap() int {
	return len(b.buf)
}

// ReadPos returns the absolute read cursor.
func (b *Buffer[T]) ReadPos() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.head
}

// WritePos returns the absolute write cursor.
func (b *Buffer[T]) WritePos() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tail
}

// Overruns reports how many writes discarded unread data and the total
// number of elements discarded.
func (b *Buffer[T]) Overruns() (events, dropped int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overruns, b.dropped
}

// CloseWrite marks the end of the stream. Remaining data can still be read.
func (b *Buffer[T]) CloseWrite() {
	b.mu.Lock()
	b.closeWrite = true
	b.mu.Unlock()
}

// Closed reports whether CloseWrite has been called.
func (b *Buffer[T]) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeWrite
}
