// Package demo runs the request/reply exchange with a guest over a vchan.
package demo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/maxdollinger/unistage/pkg/vchan"
)

const (
	Greeting          = "sample dom0 message 1"
	DefaultIterations = 100
	// MaxReply leaves room for a terminator in the guest's 64 byte buffer.
	MaxReply = 63
)

// Conn is the part of a vchan the demo needs.
type Conn interface {
	Write(ctx context.Context, p []byte) (int, error)
	Read(ctx context.Context, p []byte) (int, error)
	Close() error
}

var _ Conn = (*vchan.Channel)(nil)

// Report counts what happened during a run.
type Report struct {
	Iterations int
	Writes     int
	Reads      int
}

type Runner struct {
	iterations int
	out        io.Writer
	logger     *slog.Logger
}

type Option func(*Runner)

func WithIterations(n int) Option {
	return func(r *Runner) { r.iterations = n }
}

func WithOutput(w io.Writer) Option {
	return func(r *Runner) { r.out = w }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		iterations: DefaultIterations,
		out:        io.Discard,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run sends the greeting, then performs every iteration regardless of
// failures, and closes conn before returning.
func (r *Runner) Run(ctx context.Context, conn Conn) Report {
	defer func() {
		if err := conn.Close(); err != nil {
			r.logger.WarnContext(ctx, "failed to close channel", "error", err)
		}
	}()

	if _, err := conn.Write(ctx, []byte(Greeting)); err != nil {
		r.logger.WarnContext(ctx, "greeting not sent", "error", err)
	}

	report := Report{}
	reply := make([]byte, MaxReply)
	for i := 0; i < r.iterations; i++ {
		report.Iterations++

		msg := fmt.Sprintf("sample msg #%d !", i)
		if _, err := conn.Write(ctx, []byte(msg)); err != nil {
			r.logger.WarnContext(ctx, "write failed", "iteration", i, "error", err)
		} else {
			report.Writes++
		}

		n, err := conn.Read(ctx, reply)
		if err != nil || n <= 0 {
			r.logger.WarnContext(ctx, "no reply", "iteration", i, "bytes", n, "error", err)
			continue
		}
		report.Reads++
		fmt.Fprintf(r.out, "[%s]\n", reply[:n])
	}

	r.logger.InfoContext(ctx, "channel demo finished",
		"iterations", report.Iterations,
		"writes", report.Writes,
		"reads", report.Reads)
	return report
}

// Echo is the guest side of the exchange: it answers every message with
// its own content until the channel closes or ctx is done.
func Echo(ctx context.Context, conn Conn) (int, error) {
	buf := make([]byte, MaxReply)
	answered := 0
	for {
		n, err := conn.Read(ctx, buf)
		if err != nil {
			return answered, endOfStream(err)
		}
		if _, err := conn.Write(ctx, buf[:n]); err != nil {
			return answered, endOfStream(err)
		}
		answered++
	}
}

// endOfStream treats a closed channel as a normal end of the exchange.
func endOfStream(err error) error {
	if errors.Is(err, vchan.ErrPeerClosed) || errors.Is(err, vchan.ErrClosed) {
		return nil
	}
	return err
}
