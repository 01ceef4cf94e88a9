package vchan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// Transport carries the byte stream between two domains.
type Transport interface {
	// Listen publishes domid/name and returns once a peer connected
	Listen(ctx context.Context, domid int, name string) (net.Conn, error)
	// Dial connects to a channel published with Listen
	Dial(ctx context.Context, domid int, name string) (net.Conn, error)
}

// UnixTransport exposes channels as unix sockets under Dir, the way a
// pvcalls or argo proxy on the control domain would.
type UnixTransport struct {
	Dir          string
	PollInterval time.Duration
}

func NewUnixTransport(dir string) *UnixTransport {
	return &UnixTransport{Dir: dir, PollInterval: 20 * time.Millisecond}
}

func (t *UnixTransport) SocketPath(domid int, name string) string {
	return filepath.Join(t.Dir, strconv.Itoa(domid), name+".sock")
}

func (t *UnixTransport) Listen(ctx context.Context, domid int, name string) (net.Conn, error) {
	socketPath := t.SocketPath(domid, name)
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer ln.Close()

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("accept on %s: %w", socketPath, err)
	}
	return conn, nil
}

// Dial retries until the socket shows up or ctx is done.
func (t *UnixTransport) Dial(ctx context.Context, domid int, name string) (net.Conn, error) {
	socketPath := t.SocketPath(domid, name)
	interval := t.PollInterval
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "unix", socketPath)
		if err == nil {
			return conn, nil
		}
		if !errors.Is(err, os.ErrNotExist) && !errors.Is(err, syscall.ECONNREFUSED) {
			return nil, fmt.Errorf("dial %s: %w", socketPath, err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", socketPath, ctx.Err())
		case <-ticker.C:
		}
	}
}

// PipeTransport pairs Listen and Dial calls in memory.
type PipeTransport struct {
	mu      sync.Mutex
	pending map[string]chan net.Conn
}

func NewPipeTransport() *PipeTransport {
	return &PipeTransport{pending: make(map[string]chan net.Conn)}
}

func (t *PipeTransport) slot(domid int, name string) chan net.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := strconv.Itoa(domid) + "/" + name
	ch, ok := t.pending[key]
	if !ok {
		ch = make(chan net.Conn)
		t.pending[key] = ch
	}
	return ch
}

func (t *PipeTransport) Listen(ctx context.Context, domid int, name string) (net.Conn, error) {
	server, client := net.Pipe()
	select {
	case t.slot(domid, name) <- client:
		return server, nil
	case <-ctx.Done():
		_ = server.Close()
		_ = client.Close()
		return nil, ctx.Err()
	}
}

func (t *PipeTransport) Dial(ctx context.Context, domid int, name string) (net.Conn, error) {
	select {
	case conn := <-t.slot(domid, name):
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
