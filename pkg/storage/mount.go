package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"
)

// OpenArea resolves the area a descriptor refers to below root.
func OpenArea(desc MountDescriptor, root string) (Area, error) {
	if desc.PartitionID == "" {
		return nil, fmt.Errorf("%w: empty partition id", ErrStorage)
	}

	switch desc.Type {
	case FsTypeDir, "":
		return NewDirArea(desc.PartitionID, filepath.Join(root, desc.PartitionID)), nil
	case FsTypeExt4:
		return NewExt4Area(desc.PartitionID, filepath.Join(root, desc.PartitionID+".ext4"), desc.SizeBytes), nil
	case FsTypeMem:
		return NewMemArea(desc.PartitionID), nil
	default:
		return nil, fmt.Errorf("%w: %w: %q", ErrStorage, ErrUnknownType, desc.Type)
	}
}

// MountHandle is a mounted area. It must be unmounted exactly once.
type MountHandle struct {
	desc    MountDescriptor
	area    Area
	fsys    afero.Fs
	mounted bool
	logger  *slog.Logger
}

// Mount erases area and mounts it at desc.MountPoint.
func Mount(ctx context.Context, area Area, desc MountDescriptor) (*MountHandle, error) {
	if area == nil {
		return nil, fmt.Errorf("%w: no storage area", ErrStorage)
	}
	if desc.MountPoint == "" {
		desc.MountPoint = DefaultMountPoint
	}

	logger := slog.Default().With("partition", area.ID(), "mount_point", desc.MountPoint)

	logger.InfoContext(ctx, "erasing storage area", "type", desc.Type)
	if err := area.Erase(ctx); err != nil {
		return nil, fmt.Errorf("%w: erase %s: %w", ErrStorage, area.ID(), err)
	}

	fsys, err := area.Mount(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: mount %s at %s: %w", ErrStorage, area.ID(), desc.MountPoint, err)
	}
	logger.InfoContext(ctx, "storage mounted")

	return &MountHandle{
		desc:    desc,
		area:    area,
		fsys:    fsys,
		mounted: true,
		logger:  logger,
	}, nil
}

func (h *MountHandle) Fs() afero.Fs { return h.fsys }

func (h *MountHandle) MountPoint() string { return h.desc.MountPoint }

func (h *MountHandle) Descriptor() MountDescriptor { return h.desc }

func (h *MountHandle) Mounted() bool { return h.mounted }

// Unmount releases the area. Only the first call reaches the area, later
// calls return nil.
func (h *MountHandle) Unmount(ctx context.Context) error {
	if !h.mounted {
		return nil
	}
	h.mounted = false

	if err := h.area.Unmount(ctx); err != nil {
		h.logger.WarnContext(ctx, "unmount failed", "error", err)
		return fmt.Errorf("%w: unmount %s: %w", ErrStorage, h.desc.MountPoint, err)
	}

	h.logger.InfoContext(ctx, "storage unmounted")
	return nil
}
