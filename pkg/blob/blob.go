// Package blob holds the guest images (kernel, device tree) staged at boot.
package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
)

var ErrMissingBlob = errors.New("missing guest blob")

// Blob is a named, read-only byte range. Callers must not modify Data.
type Blob struct {
	Name string
	Data []byte
}

func (b Blob) Size() int64 { return int64(len(b.Data)) }

// Guest is the pair of images that make up a bootable guest.
type Guest struct {
	Kernel     Blob
	DeviceTree Blob
}

func (g Guest) Validate() error {
	if g.Kernel.Data == nil {
		return fmt.Errorf("%w: kernel %s", ErrMissingBlob, g.Kernel.Name)
	}
	if g.DeviceTree.Data == nil {
		return fmt.Errorf("%w: device tree %s", ErrMissingBlob, g.DeviceTree.Name)
	}
	return nil
}

// Source abstracts where guest images come from (files, registry, memory).
type Source interface {
	Guest(ctx context.Context) (*Guest, error)
	Info() string
}

// FileSource reads the images from the host filesystem.
type FileSource struct {
	KernelPath     string
	DeviceTreePath string
}

func NewFileSource(kernelPath, dtbPath string) *FileSource {
	return &FileSource{KernelPath: kernelPath, DeviceTreePath: dtbPath}
}

func (s *FileSource) Info() string {
	return fmt.Sprintf("file:%s,%s", s.KernelPath, s.DeviceTreePath)
}

func (s *FileSource) Guest(ctx context.Context) (*Guest, error) {
	kernel, err := os.ReadFile(s.KernelPath)
	if err != nil {
		return nil, fmt.Errorf("read kernel image: %w", err)
	}

	dtb, err := os.ReadFile(s.DeviceTreePath)
	if err != nil {
		return nil, fmt.Errorf("read device tree: %w", err)
	}

	return &Guest{
		Kernel:     Blob{Name: s.KernelPath, Data: kernel},
		DeviceTree: Blob{Name: s.DeviceTreePath, Data: dtb},
	}, nil
}

// StaticSource returns fixed images, used for tests and dry runs.
type StaticSource struct {
	guest Guest
}

func NewStaticSource(kernel, dtb []byte) *StaticSource {
	return &StaticSource{guest: Guest{
		Kernel:     Blob{Name: "static-kernel", Data: kernel},
		DeviceTree: Blob{Name: "static-dtb", Data: dtb},
	}}
}

func (s *StaticSource) Info() string { return "static" }

func (s *StaticSource) Guest(ctx context.Context) (*Guest, error) {
	g := s.guest
	return &g, nil
}
