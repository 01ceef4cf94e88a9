package storage

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// DefaultImageSize is used when an ext4 area is configured without a size.
const DefaultImageSize = 64 << 20

// CommandRunner runs an external tool. It is swapped out in tests.
type CommandRunner func(ctx context.Context, name string, args ...string) error

func execRunner(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Ext4Area is an ext4 image file that is loop mounted while staging.
// It heavily shells out to mkfs.ext4, mount and umount.
type Ext4Area struct {
	id        string
	imagePath string
	sizeBytes int64
	label     string
	mountDir  string
	run       CommandRunner
}

func NewExt4Area(id, imagePath string, sizeBytes int64) *Ext4Area {
	if sizeBytes <= 0 {
		sizeBytes = DefaultImageSize
	}

	return &Ext4Area{
		id:        id,
		imagePath: imagePath,
		sizeBytes: sizeBytes,
		label:     strings.ToUpper(id),
		run:       execRunner,
	}
}

// WithRunner replaces the command runner.
func (a *Ext4Area) WithRunner(run CommandRunner) *Ext4Area {
	a.run = run
	return a
}

func (a *Ext4Area) ID() string { return a.id }

func (a *Ext4Area) ImagePath() string { return a.imagePath }

func (a *Ext4Area) SizeBytes() int64 { return a.sizeBytes }

// Erase recreates the image as a sparse file and formats it.
func (a *Ext4Area) Erase(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(a.imagePath), 0o755); err != nil {
		return fmt.Errorf("create image dir: %w", err)
	}

	if err := createSparseFile(a.imagePath, a.sizeBytes); err != nil {
		return fmt.Errorf("create sparse image: %w", err)
	}

	args := []string{"-F", "-q"}
	if len(a.label) > 0 {
		args = append(args, "-L", truncateLabel(a.label))
	}
	args = append(args, a.imagePath)

	if err := a.run(ctx, "mkfs.ext4", args...); err != nil {
		return fmt.Errorf("format image as ext4: %w", err)
	}

	return nil
}

func (a *Ext4Area) Mount(ctx context.Context) (afero.Fs, error) {
	if a.mountDir != "" {
		return nil, ErrAlreadyInUse
	}

	if _, err := os.Stat(a.imagePath); err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}

	mountDir := filepath.Join(os.TempDir(), a.mountDirName())
	if err := os.MkdirAll(mountDir, 0o755); err != nil {
		return nil, fmt.Errorf("create ext4 mountdir: %w", err)
	}

	if err := a.run(ctx, "mount", "-o", "loop", a.imagePath, mountDir); err != nil {
		_ = os.Remove(mountDir)
		return nil, fmt.Errorf("mount %s on %s: %w", a.imagePath, mountDir, err)
	}

	a.mountDir = mountDir
	return afero.NewBasePathFs(afero.NewOsFs(), mountDir), nil
}

func (a *Ext4Area) Unmount(ctx context.Context) error {
	// nothing mounted, nothing to do
	if a.mountDir == "" {
		return nil
	}

	if err := a.run(ctx, "umount", a.mountDir); err != nil {
		return fmt.Errorf("umount %s: %w", a.mountDir, err)
	}

	if err := os.RemoveAll(a.mountDir); err != nil {
		return fmt.Errorf("remove mountdir %s: %w", a.mountDir, err)
	}

	a.mountDir = ""
	return nil
}

func (a *Ext4Area) mountDirName() string {
	fileName := filepath.Base(a.imagePath)
	return strings.TrimSuffix(fileName, filepath.Ext(fileName)) + "_mount"
}

func createSparseFile(path string, sizeBytes int64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	// truncate keeps the file sparse, only metadata hits the disk
	if err := f.Truncate(sizeBytes); err != nil {
		return fmt.Errorf("truncate to %d bytes: %w", sizeBytes, err)
	}

	return nil
}

// ext4 labels are limited to 16 bytes
func truncateLabel(label string) string {
	if len(label) > 16 {
		return label[:16]
	}
	return label
}
