package storage

import (
	"context"

	"github.com/spf13/afero"
)

// MemArea keeps the staged files in memory. The content survives Unmount so
// callers can inspect it afterwards, but not Erase.
type MemArea struct {
	id      string
	fsys    afero.Fs
	mounted bool

	// Fail* inject errors for tests.
	FailMount   error
	FailUnmount error

	Unmounts int
}

func NewMemArea(id string) *MemArea {
	return &MemArea{id: id, fsys: afero.NewMemMapFs()}
}

func (a *MemArea) ID() string { return a.id }

// Fs returns the backing filesystem regardless of mount state.
func (a *MemArea) Fs() afero.Fs { return a.fsys }

func (a *MemArea) Erase(ctx context.Context) error {
	a.fsys = afero.NewMemMapFs()
	return nil
}

func (a *MemArea) Mount(ctx context.Context) (afero.Fs, error) {
	if a.FailMount != nil {
		return nil, a.FailMount
	}
	if a.mounted {
		return nil, ErrAlreadyInUse
	}
	a.mounted = true
	return a.fsys, nil
}

func (a *MemArea) Unmount(ctx context.Context) error {
	a.Unmounts++
	if a.FailUnmount != nil {
		return a.FailUnmount
	}
	a.mounted = false
	return nil
}
