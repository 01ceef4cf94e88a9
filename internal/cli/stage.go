package cli

import (
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/maxdollinger/unistage/internal/boot"
	"github.com/maxdollinger/unistage/internal/staging"
	"github.com/maxdollinger/unistage/pkg/descriptor"
	"github.com/maxdollinger/unistage/pkg/fs"
	"github.com/maxdollinger/unistage/pkg/lock"
)

const (
	idleConsole = 2 * time.Second
	pollConsole = 50 * time.Millisecond
)

func stageCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stage",
		Short: "write config.json, unikernel.bin and uni.dtb into the storage area",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			area, err := boot.Area(a.cfg, a.flags.dryRun)
			if err != nil {
				return err
			}
			source, err := boot.GuestSource(a.cfg)
			if err != nil {
				return err
			}
			guest, err := source.Guest(ctx)
			if err != nil {
				return err
			}
			d, err := descriptor.New(a.cfg.DescriptorOptions())
			if err != nil {
				return err
			}

			opts := []staging.Option{staging.WithListing(cmd.OutOrStdout())}
			if a.cfg.Storage.Lock && !a.flags.dryRun {
				opts = append(opts, staging.WithLocker(lock.NewFlockLocker(a.cfg.Storage.LockDir)))
			}

			_, err = staging.NewStager(opts...).Run(ctx, area, a.cfg.MountDescriptor(), staging.Bundle{
				Descriptor: d,
				Guest:      guest,
			})
			return err
		},
	}
}

func lsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "list a staged directory area without erasing it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dirArea, err := openDirArea(a)
			if err != nil {
				return err
			}

			mountPoint := a.cfg.Storage.MountPoint
			dir := mountPoint
			if len(args) == 1 {
				dir = args[0]
			}

			fsys := afero.NewReadOnlyFs(afero.NewBasePathFs(afero.NewOsFs(), dirArea.Dir()))
			entries, err := fs.ListDirectory(fsys, mountPoint, dir).Collect()
			fs.PrintListing(cmd.OutOrStdout(), entries)
			return err
		},
	}
}
