package boot

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"github.com/maxdollinger/unistage/internal/config"
	"github.com/maxdollinger/unistage/internal/domain"
	"github.com/maxdollinger/unistage/internal/journal"
	"github.com/maxdollinger/unistage/pkg/blob"
	"github.com/maxdollinger/unistage/pkg/descriptor"
	"github.com/maxdollinger/unistage/pkg/lock"
	"github.com/maxdollinger/unistage/pkg/network"
	"github.com/maxdollinger/unistage/pkg/oci"
	"github.com/maxdollinger/unistage/pkg/storage"
	"github.com/maxdollinger/unistage/pkg/vchan"
)

// placeholder images for the static source
var (
	staticKernel = []byte("unistage static kernel")
	staticDTB    = []byte{0xd0, 0x0d, 0xfe, 0xed}
)

// Wire builds the collaborators described by cfg. A dry run keeps
// everything in memory and answers the channel demo locally. The returned
// cleanup closes what Wire opened.
func Wire(ctx context.Context, cfg *config.Config, opts Options) ([]Option, func() error, error) {
	var options []Option
	cleanup := func() error { return nil }

	area, err := Area(cfg, opts.DryRun)
	if err != nil {
		return nil, cleanup, err
	}
	options = append(options, WithArea(area))

	if cfg.Storage.Lock && !opts.DryRun {
		options = append(options, WithLocker(lock.NewFlockLocker(cfg.Storage.LockDir)))
	}

	guest, err := GuestSource(cfg)
	if err != nil {
		return nil, cleanup, err
	}
	options = append(options, WithGuestSource(guest))

	if opts.DryRun {
		options = append(options, WithLauncher(domain.NewNoOpLauncher(domain.DomainID(cfg.Channel.DomID))),
			WithHostFs(afero.NewMemMapFs()))
	} else {
		options = append(options, WithLauncher(domain.NewXLLauncher(cfg.Domain.StateDir,
			domain.WithNetwork(network.NewHostManager()))))
	}

	if opts.DryRun || cfg.Channel.Transport == "pipe" {
		options = append(options, WithTransport(vchan.NewPipeTransport()), WithEchoPeer())
	} else {
		options = append(options, WithTransport(vchan.NewUnixTransport(cfg.Channel.Dir)))
	}

	if cfg.Journal != "" && !opts.DryRun {
		db, err := journal.Open(ctx, cfg.Journal)
		if err != nil {
			return nil, cleanup, err
		}
		options = append(options, WithJournal(db))
		cleanup = db.Close
	}

	return options, cleanup, nil
}

// Area opens the storage area from cfg, or an in-memory one for dry runs.
func Area(cfg *config.Config, dryRun bool) (storage.Area, error) {
	if dryRun {
		return storage.NewMemArea(cfg.Storage.Partition), nil
	}
	return storage.OpenArea(cfg.MountDescriptor(), cfg.Storage.Root)
}

// GuestSource selects the guest image source from cfg.
func GuestSource(cfg *config.Config) (blob.Source, error) {
	switch cfg.Guest.Source {
	case config.GuestFile, "":
		return blob.NewFileSource(cfg.Guest.Kernel, cfg.Guest.DeviceTree), nil
	case config.GuestStatic:
		return blob.NewStaticSource(staticKernel, staticDTB), nil
	case config.GuestOCI:
		registry, err := oci.NewRegistry(cfg.Guest.Image)
		if err != nil {
			return nil, fmt.Errorf("guest image: %w", err)
		}
		if cfg.Guest.Platform != "" {
			registry = registry.WithPlatform(cfg.Guest.Platform)
		}
		return oci.NewGuestSource(registry, descriptor.KernelFileName, descriptor.DTBFileName), nil
	default:
		return nil, fmt.Errorf("%w: guest source %q", config.ErrInvalidConfig, cfg.Guest.Source)
	}
}
