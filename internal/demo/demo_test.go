package demo

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/maxdollinger/unistage/pkg/vchan"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedConn records writes and answers reads from a list of results.
type scriptedConn struct {
	writes  []string
	reads   []func(p []byte) (int, error)
	readIdx int
	closed  int
}

func (c *scriptedConn) Write(ctx context.Context, p []byte) (int, error) {
	c.writes = append(c.writes, string(p))
	return len(p), nil
}

func (c *scriptedConn) Read(ctx context.Context, p []byte) (int, error) {
	if len(c.reads) == 0 {
		return 0, nil
	}
	fn := c.reads[c.readIdx%len(c.reads)]
	c.readIdx++
	return fn(p)
}

func (c *scriptedConn) Close() error {
	c.closed++
	return nil
}

func reply(s string) func([]byte) (int, error) {
	return func(p []byte) (int, error) { return copy(p, s), nil }
}

func TestRunAlwaysCompletesAllIterations(t *testing.T) {
	conn := &scriptedConn{reads: []func([]byte) (int, error){
		reply("pong"),
		func([]byte) (int, error) { return 0, nil },
		func([]byte) (int, error) { return 0, errors.New("ring error") },
	}}
	var out bytes.Buffer

	report := NewRunner(WithOutput(&out)).Run(context.Background(), conn)

	assert.Equal(t, DefaultIterations, report.Iterations)
	assert.Equal(t, DefaultIterations, report.Writes)
	assert.Equal(t, 34, report.Reads)
	assert.Equal(t, 34, strings.Count(out.String(), "[pong]\n"))
	assert.Equal(t, 1, conn.closed)

	require.Len(t, conn.writes, DefaultIterations+1)
	assert.Equal(t, Greeting, conn.writes[0])
	assert.Equal(t, "sample msg #0 !", conn.writes[1])
	assert.Equal(t, "sample msg #99 !", conn.writes[100])
}

func TestRunNoRepliesAtAll(t *testing.T) {
	conn := &scriptedConn{}
	report := NewRunner(WithIterations(10)).Run(context.Background(), conn)

	assert.Equal(t, Report{Iterations: 10, Writes: 10, Reads: 0}, report)
	assert.Equal(t, 1, conn.closed)
}

func TestRunTruncatesReply(t *testing.T) {
	conn := &scriptedConn{reads: []func([]byte) (int, error){
		func(p []byte) (int, error) {
			assert.Len(t, p, MaxReply)
			return copy(p, strings.Repeat("x", 100)), nil
		},
	}}
	var out bytes.Buffer

	NewRunner(WithIterations(1), WithOutput(&out)).Run(context.Background(), conn)
	assert.Equal(t, "["+strings.Repeat("x", MaxReply)+"]\n", out.String())
}

func TestRunAgainstEcho(t *testing.T) {
	tr := vchan.NewPipeTransport()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echoDone := make(chan int, 1)
	go func() {
		peer, err := vchan.Connect(ctx, tr, 1, "demo", vchan.Blocking)
		if !assert.NoError(t, err) {
			echoDone <- 0
			return
		}
		defer peer.Close()
		n, err := Echo(ctx, peer)
		assert.NoError(t, err)
		echoDone <- n
	}()

	ch, err := vchan.Open(ctx, tr, 1, "demo", 128, 128, vchan.Blocking, vchan.WithTimeout(time.Second))
	require.NoError(t, err)

	var out bytes.Buffer
	report := NewRunner(WithIterations(5), WithOutput(&out)).Run(ctx, ch)

	assert.Equal(t, 5, report.Iterations)
	assert.Equal(t, 5, report.Writes)
	assert.Equal(t, 5, report.Reads)
	assert.GreaterOrEqual(t, <-echoDone, 1)
	assert.Contains(t, out.String(), "sample dom0 message 1")
}
