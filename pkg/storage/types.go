// Package storage prepares the area guest assets are staged into: it erases
// the backing storage, mounts a filesystem on it and unmounts it once staging
// is done.
package storage

import (
	"context"

	"github.com/spf13/afero"
)

const DefaultMountPoint = "/lfs"

type FsType string

const (
	FsTypeDir  FsType = "dir"  // plain host directory
	FsTypeExt4 FsType = "ext4" // loop-mounted ext4 image file
	FsTypeMem  FsType = "mem"  // in-memory, for tests and dry runs
)

// MountDescriptor identifies what to mount and where the guest expects it.
type MountDescriptor struct {
	Type        FsType
	PartitionID string // selects the backing area below the storage root
	MountPoint  string // logical mount point, e.g. "/lfs"
	SizeBytes   int64  // only used by areas that must be formatted
}

// Area is a backing storage region that can be erased and mounted.
type Area interface {
	// ID returns the partition id of the area.
	ID() string

	// Erase wipes the area. It is idempotent.
	Erase(ctx context.Context) error

	// Mount makes the area available and returns a filesystem rooted at it.
	Mount(ctx context.Context) (afero.Fs, error)

	// Unmount releases the area. Unmounting an area that is not mounted is a no-op.
	Unmount(ctx context.Context) error
}
