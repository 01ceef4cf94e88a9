package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// DirArea uses a host directory as storage.
type DirArea struct {
	id      string
	dir     string
	mounted bool
}

func NewDirArea(id, dir string) *DirArea {
	return &DirArea{id: id, dir: dir}
}

func (a *DirArea) ID() string { return a.id }

func (a *DirArea) Dir() string { return a.dir }

func (a *DirArea) Erase(ctx context.Context) error {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return fmt.Errorf("create area dir %s: %w", a.dir, err)
	}

	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return fmt.Errorf("read area dir %s: %w", a.dir, err)
	}

	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(a.dir, entry.Name())); err != nil {
			return fmt.Errorf("erase %s: %w", entry.Name(), err)
		}
	}

	return nil
}

func (a *DirArea) Mount(ctx context.Context) (afero.Fs, error) {
	if a.mounted {
		return nil, ErrAlreadyInUse
	}

	info, err := os.Stat(a.dir)
	if err != nil {
		return nil, fmt.Errorf("open area dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("area %s is not a directory", a.dir)
	}

	a.mounted = true
	return afero.NewBasePathFs(afero.NewOsFs(), a.dir), nil
}

func (a *DirArea) Unmount(ctx context.Context) error {
	a.mounted = false
	return nil
}
