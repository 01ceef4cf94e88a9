package fs

import "errors"

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrPath            = errors.New("path too long")
	ErrWrite           = errors.New("write failed")
	ErrDirectoryRead   = errors.New("directory read failed")
)

// MaxPathLen is the longest joined mount point and file name accepted by WriteFile.
const MaxPathLen = 255
