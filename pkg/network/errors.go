package network

import "errors"

var (
	ErrInvalidConfig = errors.New("invalid network config")
	ErrBridge        = errors.New("bridge setup failed")
	ErrNAT           = errors.New("NAT setup failed")
)
