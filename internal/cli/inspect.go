package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/opencontainers/go-digest"
	"github.com/spf13/cobra"

	"github.com/maxdollinger/unistage/pkg/checksum"
	"github.com/maxdollinger/unistage/pkg/descriptor"
	"github.com/maxdollinger/unistage/pkg/storage"
)

var errDigestMismatch = errors.New("digest mismatch")

func inspectCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [config.json]",
		Short: "print a guest descriptor and check its asset paths",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := stagedFile(a, args, descriptor.FileName)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			d, err := descriptor.Parse(data)
			if err != nil {
				return err
			}
			pretty, err := json.MarshalIndent(d, "", "  ")
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n", pretty)
			mismatches := d.Check(a.cfg.Storage.MountPoint)
			for _, m := range mismatches {
				fmt.Fprintf(out, "mismatch: %s\n", m)
			}
			if len(mismatches) == 0 {
				fmt.Fprintf(out, "paths match the staged layout under %s\n", a.cfg.Storage.MountPoint)
			}
			return nil
		},
	}
}

// stagedFile returns args[0], or name inside the configured dir area.
func stagedFile(a *app, args []string, name string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	dirArea, err := openDirArea(a)
	if err != nil {
		return "", err
	}
	return filepath.Join(dirArea.Dir(), name), nil
}

// openDirArea opens the configured area, which must keep its files on the
// host after unmount.
func openDirArea(a *app) (*storage.DirArea, error) {
	area, err := storage.OpenArea(a.cfg.MountDescriptor(), a.cfg.Storage.Root)
	if err != nil {
		return nil, err
	}
	dirArea, ok := area.(*storage.DirArea)
	if !ok {
		return nil, fmt.Errorf("%w: %q areas are not readable after unmount, use a dir area", storage.ErrUnknownType, a.cfg.Storage.Type)
	}
	return dirArea, nil
}

func checksumCommand(a *app) *cobra.Command {
	var expect string

	cmd := &cobra.Command{
		Use:   "checksum <file>...",
		Short: "print the sha256 digest and size of files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if expect != "" {
				return verifyChecksum(cmd, args, digest.Digest(expect))
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"File", "Size", "Digest"})
			table.SetBorder(false)
			table.SetAutoWrapText(false)

			for _, file := range args {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				dgst, err := checksum.Calculate(data)
				if err != nil {
					return fmt.Errorf("%s: %w", file, err)
				}
				table.Append([]string{file, humanize.IBytes(uint64(len(data))), dgst.String()})
			}

			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&expect, "expect", "", "fail unless every file hashes to this digest")
	return cmd
}

func verifyChecksum(cmd *cobra.Command, files []string, want digest.Digest) error {
	if err := want.Validate(); err != nil {
		return fmt.Errorf("--expect: %w", err)
	}

	var errs []error
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		ok, err := checksum.Verify(data, want)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", errDigestMismatch, file))
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", file)
	}
	return errors.Join(errs...)
}
