package capture

import "github.com/smazurov/screenlink/internal/relay"

// Pool is a fixed set of frame buffers shared by the capture loop and the
// sender worker. When every buffer is in flight Get reports a miss instead
// of allocating.
type Pool struct {
	size int
	free chan []byte
}

// NewPool allocates n buffers of size bytes.
func NewPool(n, size int) *Pool {
	p := &Pool{size: size, free: make(chan []byte, n)}
	for range n {
		p.free <- make([]byte, size)
	}
	return p
}

// Get returns a free buffer, or false when all are in use.
func (p *Pool) Get() ([]byte, bool) {
	select {
	case b := <-p.free:
		return b, true
	default:
		return nil, false
	}
}

// Put returns a buffer. Buffers of the wrong size are dropped.
func (p *Pool) Put(b []byte) {
	if cap(b) < p.size {
		return
	}
	select {
	case p.free <- b[:p.size]:
	default:
	}
}

// Release returns a frame's buffer to the pool. It matches relay.WithRelease.
func (p *Pool) Release(f *relay.Frame) {
	if f != nil {
		p.Put(f.Pixels)
		f.Pixels = nil
	}
}

// Free returns how many buffers are available.
func (p *Pool) Free() int { return len(p.free) }
