package vchan

import "sync"

// ring is a fixed-size byte queue shared by a caller and a pump goroutine.
// Every state change closes the current changed channel, so waiters can
// select on it together with a context.
type ring struct {
	mu      sync.Mutex
	buf     []byte
	head    int
	n       int
	err     error
	changed chan struct{}
}

func newRing(size int) *ring {
	return &ring{buf: make([]byte, size), changed: make(chan struct{})}
}

// signal must be called with mu held.
func (r *ring) signal() {
	close(r.changed)
	r.changed = make(chan struct{})
}

// put copies as much of p as fits and reports the terminal error once the
// ring no longer accepts data.
func (r *ring) put(p []byte) (int, <-chan struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return 0, r.changed, r.err
	}

	n := 0
	for n < len(p) && r.n < len(r.buf) {
		tail := (r.head + r.n) % len(r.buf)
		limit := len(r.buf) - r.n
		if c := len(r.buf) - tail; c < limit {
			limit = c
		}
		c := copy(r.buf[tail:tail+limit], p[n:])
		r.n += c
		n += c
	}

	wait := r.changed
	if n > 0 {
		r.signal()
	}
	return n, wait, nil
}

// get drains up to len(p) bytes. Buffered data is returned before the
// terminal error.
func (r *ring) get(p []byte) (int, <-chan struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for n < len(p) && r.n > 0 {
		limit := r.n
		if c := len(r.buf) - r.head; c < limit {
			limit = c
		}
		c := copy(p[n:], r.buf[r.head:r.head+limit])
		r.head = (r.head + c) % len(r.buf)
		r.n -= c
		n += c
	}

	wait := r.changed
	if n > 0 {
		r.signal()
		return n, wait, nil
	}
	return 0, wait, r.err
}

// space reports the free capacity.
func (r *ring) space() (int, <-chan struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf) - r.n, r.changed, r.err
}

func (r *ring) buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// fail records the first terminal error and wakes all waiters.
func (r *ring) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
		r.signal()
	}
}
