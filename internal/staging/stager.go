// Package staging writes the guest descriptor and images into a mounted
// storage area in the order the domain builder expects them.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/opencontainers/go-digest"
	"github.com/spf13/afero"

	"github.com/maxdollinger/unistage/pkg/blob"
	"github.com/maxdollinger/unistage/pkg/checksum"
	"github.com/maxdollinger/unistage/pkg/descriptor"
	"github.com/maxdollinger/unistage/pkg/fs"
	"github.com/maxdollinger/unistage/pkg/lock"
	"github.com/maxdollinger/unistage/pkg/storage"
)

var ErrStaging = errors.New("staging failed")

// Bundle is everything staged for one guest.
type Bundle struct {
	Descriptor *descriptor.Descriptor
	Guest      *blob.Guest
}

// AssetResult is the outcome of writing one asset.
type AssetResult struct {
	Name   string
	Bytes  int
	Digest digest.Digest
	Err    error
}

type Result struct {
	Assets     []AssetResult
	Listing    []fs.DirEntry
	ListErr    error
	UnmountErr error
}

// Err joins all asset write failures.
func (r *Result) Err() error {
	var errs []error
	for _, a := range r.Assets {
		if a.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a.Name, a.Err))
		}
	}
	return errors.Join(errs...)
}

type Stager struct {
	locker  lock.Locker
	listing io.Writer
	logger  *slog.Logger
}

type Option func(*Stager)

// WithLocker serializes staging runs on the same area.
func WithLocker(l lock.Locker) Option {
	return func(s *Stager) { s.locker = l }
}

// WithListing prints the mount root to w after the writes.
func WithListing(w io.Writer) Option {
	return func(s *Stager) { s.listing = w }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Stager) { s.logger = logger }
}

func NewStager(opts ...Option) *Stager {
	s := &Stager{
		locker: lock.NoOpLocker{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run locks and mounts area, then stages bundle into it. When the mount
// fails nothing is written and the error wraps storage.ErrStorage.
func (s *Stager) Run(ctx context.Context, area storage.Area, desc storage.MountDescriptor, bundle Bundle) (*Result, error) {
	l, err := s.locker.Acquire(ctx, area.ID())
	if err != nil {
		return nil, fmt.Errorf("%w: lock area %s: %w", ErrStaging, area.ID(), err)
	}
	defer func() {
		if err := l.Unlock(); err != nil {
			s.logger.WarnContext(ctx, "failed to release area lock", "partition", area.ID(), "error", err)
		}
	}()

	mount, err := storage.Mount(ctx, area, desc)
	if err != nil {
		s.logger.ErrorContext(ctx, "storage unavailable, skipping staging", "error", err)
		return nil, err
	}

	return s.Stage(ctx, mount, bundle)
}

// Stage writes config.json, unikernel.bin and uni.dtb in that order. A
// failed write does not stop the following ones. The mount is released
// exactly once before returning.
func (s *Stager) Stage(ctx context.Context, mount *storage.MountHandle, bundle Bundle) (*Result, error) {
	res := &Result{}
	fsys := mount.Fs()
	mountPoint := mount.MountPoint()

	defer func() {
		res.UnmountErr = mount.Unmount(ctx)
	}()

	config, configErr := marshalDescriptor(bundle.Descriptor)
	if bundle.Descriptor != nil {
		for _, m := range bundle.Descriptor.Check(mountPoint) {
			s.logger.WarnContext(ctx, "descriptor does not match staged layout",
				"field", m.Field,
				"descriptor_path", m.Descriptor,
				"staged_path", m.Staged)
		}
	}

	var kernel, dtb blob.Blob
	if bundle.Guest != nil {
		kernel, dtb = bundle.Guest.Kernel, bundle.Guest.DeviceTree
	}

	res.Assets = append(res.Assets,
		s.writeAsset(ctx, fsys, mountPoint, descriptor.FileName, config, configErr),
		s.writeAsset(ctx, fsys, mountPoint, descriptor.KernelFileName, kernel.Data, nil),
		s.writeAsset(ctx, fsys, mountPoint, descriptor.DTBFileName, dtb.Data, nil),
	)

	if s.listing != nil {
		res.Listing, res.ListErr = fs.ListDirectory(fsys, mountPoint, mountPoint).Collect()
		if res.ListErr != nil {
			s.logger.WarnContext(ctx, "listing failed", "error", res.ListErr)
		}
		fs.PrintListing(s.listing, res.Listing)
	}

	if err := res.Err(); err != nil {
		return res, fmt.Errorf("%w: %w", ErrStaging, err)
	}
	return res, nil
}

func (s *Stager) writeAsset(ctx context.Context, fsys afero.Fs, mountPoint, name string, data []byte, prepErr error) AssetResult {
	res := AssetResult{Name: name}
	if prepErr != nil {
		res.Err = prepErr
		s.logger.ErrorContext(ctx, "asset not written", "name", name, "error", prepErr)
		return res
	}

	sum, err := checksum.Calculate(data)
	if err != nil {
		s.logger.WarnContext(ctx, "checksum failed", "name", name, "error", err)
	}
	res.Digest = sum

	n, err := fs.WriteFile(fsys, mountPoint, name, data)
	res.Bytes = n
	if err != nil {
		res.Err = err
		s.logger.ErrorContext(ctx, "asset write failed", "name", name, "written", n, "error", err)
		return res
	}

	s.logger.InfoContext(ctx, "asset written", "name", name, "bytes", n, "sha256", sum.Encoded())
	return res
}

func marshalDescriptor(d *descriptor.Descriptor) ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: no descriptor", descriptor.ErrInvalidDescriptor)
	}
	return d.Marshal()
}
