package oci

import (
	"context"
	"fmt"

	"github.com/maxdollinger/unistage/pkg/blob"
)

// GuestSource provides guest images from an OCI artifact.
type GuestSource struct {
	fetcher    Fetcher
	kernelName string
	dtbName    string
}

func NewGuestSource(fetcher Fetcher, kernelName, dtbName string) *GuestSource {
	return &GuestSource{fetcher: fetcher, kernelName: kernelName, dtbName: dtbName}
}

func (s *GuestSource) Info() string {
	return "oci:" + s.fetcher.Ref()
}

func (s *GuestSource) Guest(ctx context.Context) (*blob.Guest, error) {
	artifact, err := s.fetcher.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	files, err := ExtractFiles(ctx, artifact.Layers, s.kernelName, s.dtbName)
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", artifact.Digest, err)
	}

	ref := s.fetcher.Ref()
	return &blob.Guest{
		Kernel:     blob.Blob{Name: ref + "/" + s.kernelName, Data: files[s.kernelName]},
		DeviceTree: blob.Blob{Name: ref + "/" + s.dtbName, Data: files[s.dtbName]},
	}, nil
}
