package storage

import "errors"

var (
	ErrStorage      = errors.New("storage error")
	ErrUnknownType  = errors.New("unknown filesystem type")
	ErrNotMounted   = errors.New("area is not mounted")
	ErrAlreadyInUse = errors.New("area is already mounted")
)
