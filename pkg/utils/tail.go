package utils

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"time"
)

// TailUntilIdle copies lines appended to path into out until no new data
// arrived for idle, or ctx is done.
func TailUntilIdle(ctx context.Context, path string, out io.Writer, idle, pollEvery time.Duration) (err error) {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()

	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()

	reader := bufio.NewReader(f)
	lastActivity := time.Now()

	for {
		line, readErr := reader.ReadBytes('\n')
		if len(line) > 0 {
			if _, err := out.Write(line); err != nil {
				return err
			}
			lastActivity = time.Now()
		}

		if readErr == nil {
			continue
		}
		if readErr != io.EOF {
			return readErr
		}

		if time.Since(lastActivity) > idle {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
