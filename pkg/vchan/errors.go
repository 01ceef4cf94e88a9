package vchan

import "errors"

var (
	ErrChannel    = errors.New("vchan error")
	ErrClosed     = errors.New("vchan: channel closed")
	ErrWouldBlock = errors.New("vchan: operation would block")
	ErrPeerClosed = errors.New("peer closed the channel")
	ErrTimeout    = errors.New("blocking operation timed out")
)
