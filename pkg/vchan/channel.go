package vchan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Mode is fixed when a channel is opened.
type Mode int

const (
	Blocking Mode = iota
	NonBlocking
)

func (m Mode) String() string {
	if m == NonBlocking {
		return "nonblocking"
	}
	return "blocking"
}

// DefaultBufSize is used for both rings of a client endpoint.
const DefaultBufSize = 4096

// pumpChunk bounds a single transport read or write.
const pumpChunk = 4096

// drainTimeout bounds how long Close waits for queued bytes to reach the
// peer when the channel has no timeout of its own.
const drainTimeout = time.Second

// Channel is one endpoint of a byte stream to another domain.
type Channel struct {
	conn    net.Conn
	mode    Mode
	timeout time.Duration
	send    *ring
	recv    *ring

	cancel   context.CancelFunc
	group    *errgroup.Group
	sendDone chan struct{}

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error

	logger *slog.Logger
}

type Option func(*Channel)

// WithTimeout bounds every blocking Read and Write.
func WithTimeout(d time.Duration) Option {
	return func(c *Channel) { c.timeout = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) { c.logger = logger }
}

// Open is the server side: it publishes the channel on the transport and
// waits until the peer domain connects.
func Open(ctx context.Context, t Transport, domid int, name string, sendBufSize, recvBufSize int, mode Mode, opts ...Option) (*Channel, error) {
	if t == nil || name == "" || sendBufSize <= 0 || recvBufSize <= 0 {
		return nil, fmt.Errorf("%w: invalid open arguments (domid=%d name=%q send=%d recv=%d)",
			ErrChannel, domid, name, sendBufSize, recvBufSize)
	}

	conn, err := t.Listen(ctx, domid, name)
	if err != nil {
		return nil, fmt.Errorf("%w: open %d/%s: %w", ErrChannel, domid, name, err)
	}

	return newChannel(conn, domid, name, sendBufSize, recvBufSize, mode, opts), nil
}

// Connect is the client side of a channel published with Open.
func Connect(ctx context.Context, t Transport, domid int, name string, mode Mode, opts ...Option) (*Channel, error) {
	if t == nil || name == "" {
		return nil, fmt.Errorf("%w: invalid connect arguments (domid=%d name=%q)", ErrChannel, domid, name)
	}

	conn, err := t.Dial(ctx, domid, name)
	if err != nil {
		return nil, fmt.Errorf("%w: connect %d/%s: %w", ErrChannel, domid, name, err)
	}

	return newChannel(conn, domid, name, DefaultBufSize, DefaultBufSize, mode, opts), nil
}

func newChannel(conn net.Conn, domid int, name string, sendBufSize, recvBufSize int, mode Mode, opts []Option) *Channel {
	c := &Channel{
		conn:   conn,
		mode:   mode,
		send:   newRing(sendBufSize),
		recv:   newRing(recvBufSize),
		closed:   make(chan struct{}),
		sendDone: make(chan struct{}),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("domid", domid, "channel", name, "mode", mode.String())

	pumpCtx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(pumpCtx)
	c.cancel = cancel
	c.group = group

	group.Go(func() error {
		defer close(c.sendDone)
		return c.sendPump(groupCtx)
	})
	group.Go(func() error { return c.recvPump(groupCtx) })

	return c
}

func (c *Channel) Mode() Mode { return c.mode }

// Write queues p on the send ring. Blocking mode waits until all of p is
// queued; non-blocking mode queues what fits. Every byte Write reports is
// handed to the peer before Close tears the transport down.
func (c *Channel) Write(ctx context.Context, p []byte) (int, error) {
	if c.isClosed() {
		return 0, ErrClosed
	}

	if c.mode == NonBlocking {
		n, _, err := c.send.put(p)
		if err != nil {
			return n, c.wrap(err)
		}
		if n == 0 && len(p) > 0 {
			return 0, ErrWouldBlock
		}
		return n, nil
	}

	timeout, stop := c.timer()
	defer stop()

	written := 0
	for {
		n, wait, err := c.send.put(p[written:])
		written += n
		if written == len(p) {
			return written, nil
		}
		if err != nil {
			return written, c.wrap(err)
		}

		select {
		case <-wait:
		case <-ctx.Done():
			return written, c.wrap(ctx.Err())
		case <-c.closed:
			return written, ErrClosed
		case <-timeout:
			return written, c.wrap(ErrTimeout)
		}
	}
}

// Read returns up to len(p) bytes from the receive ring. Blocking mode waits
// for at least one byte.
func (c *Channel) Read(ctx context.Context, p []byte) (int, error) {
	if c.isClosed() {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	timeout, stop := c.timer()
	defer stop()

	for {
		n, wait, err := c.recv.get(p)
		if n > 0 {
			return n, nil
		}
		if err != nil {
			return 0, c.wrap(err)
		}
		if c.mode == NonBlocking {
			return 0, ErrWouldBlock
		}

		select {
		case <-wait:
		case <-ctx.Done():
			return 0, c.wrap(ctx.Err())
		case <-c.closed:
			return 0, ErrClosed
		case <-timeout:
			return 0, c.wrap(ErrTimeout)
		}
	}
}

// Close sends what is still queued, then releases the transport and stops
// both pumps. Draining is bounded by the channel timeout. It is safe to call
// more than once.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		// the send pump empties the ring before it sees the error
		c.send.fail(ErrClosed)
		c.drain()

		c.cancel()
		c.recv.fail(ErrClosed)

		if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.closeErr = fmt.Errorf("%w: close transport: %w", ErrChannel, err)
		}
		if err := c.group.Wait(); err != nil {
			c.logger.Debug("Channel pump stopped with error", "error", err)
		}
		c.logger.Debug("Channel closed")
	})
	return c.closeErr
}

// drain waits for the send pump to hand every queued byte to the transport.
func (c *Channel) drain() {
	wait := c.timeout
	if wait <= 0 {
		wait = drainTimeout
	}
	t := time.NewTimer(wait)
	defer t.Stop()

	select {
	case <-c.sendDone:
	case <-t.C:
		c.logger.Warn("Peer is not reading, dropping unsent data", "bytes", c.send.buffered())
	}
}

func (c *Channel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Channel) timer() (<-chan time.Time, func()) {
	if c.timeout <= 0 || c.mode == NonBlocking {
		return nil, func() {}
	}
	t := time.NewTimer(c.timeout)
	return t.C, func() { t.Stop() }
}

func (c *Channel) wrap(err error) error {
	if errors.Is(err, ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("%w: %w", ErrChannel, err)
}

// broken fails both rings after a transport error.
func (c *Channel) broken(err error) {
	c.send.fail(err)
	c.recv.fail(err)
}

func (c *Channel) sendPump(ctx context.Context) error {
	buf := make([]byte, pumpChunk)
	for {
		n, wait, err := c.send.get(buf)
		if n == 0 {
			if err != nil {
				return nil
			}
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil
			}
		}

		if _, err := c.conn.Write(buf[:n]); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.broken(ErrPeerClosed)
			return fmt.Errorf("send: %w", err)
		}
	}
}

func (c *Channel) recvPump(ctx context.Context) error {
	buf := make([]byte, pumpChunk)
	for {
		free, wait, err := c.recv.space()
		if err != nil {
			return nil
		}
		if free == 0 {
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil
			}
		}

		n, err := c.conn.Read(buf[:min(free, len(buf))])
		if n > 0 {
			// the pump is the only producer, so the chunk always fits
			_, _, _ = c.recv.put(buf[:n])
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.broken(ErrPeerClosed)
			if errors.Is(err, io.EOF) {
				c.logger.Debug("Peer closed channel")
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
	}
}
