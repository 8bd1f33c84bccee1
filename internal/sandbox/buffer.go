package sandbox

import "sync"

// DefaultBufferSize keeps the last 64KB of program output.
const DefaultBufferSize = 64 * 1024

// TailBuffer is an io.Writer that keeps only the most recent bytes written,
// so runaway output cannot exhaust memory.
type TailBuffer struct {
	mu        sync.Mutex
	buf       []byte
	head      int // next write position
	full      bool
	truncated bool
}

// NewTailBuffer creates a buffer holding at most size bytes.
func NewTailBuffer(size int) *TailBuffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &TailBuffer{buf: make([]byte, size)}
}

// Write implements io.Writer. It never fails; older bytes are overwritten.
func (b *TailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	size := len(b.buf)
	if n >= size {
		if n > size || b.head > 0 || b.full {
			b.truncated = true
		}
		copy(b.buf, p[n-size:])
		b.head = 0
		b.full = true
		return n, nil
	}

	for len(p) > 0 {
		c := copy(b.buf[b.head:], p)
		p = p[c:]
		b.head += c
		if b.head == size {
			b.head = 0
			if len(p) > 0 || b.full {
				b.truncated = true
			}
			b.full = true
		} else if b.full {
			b.truncated = true
		}
	}
	return n, nil
}

// Bytes returns the retained bytes in write order.
func (b *TailBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.full {
		out := make([]byte, b.head)
		copy(out, b.buf[:b.head])
		return out
	}
	out := make([]byte, 0, len(b.buf))
	out = append(out, b.buf[b.head:]...)
	return append(out, b.buf[:b.head]...)
}

// String returns the retained bytes as a string.
func (b *TailBuffer) String() string {
	return string(b.Bytes())
}

// Len returns the number of retained bytes.
func (b *TailBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.full {
		return len(b.buf)
	}
	return b.head
}

// Truncated reports whether older output was dropped.
func (b *TailBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
