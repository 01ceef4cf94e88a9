package oci

import (
	"bytes"
	"context"
	"io"

	"github.com/opencontainers/go-digest"
)

// MemoryFetcher serves a fixed artifact, for tests and air-gapped boards.
type MemoryFetcher struct {
	Name   string
	Layers []Layer
}

func NewMemoryFetcher(ref string, layers ...Layer) *MemoryFetcher {
	return &MemoryFetcher{Name: ref, Layers: layers}
}

func (f *MemoryFetcher) Ref() string { return f.Name }

func (f *MemoryFetcher) Fetch(ctx context.Context) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h := digest.SHA256.Digester()
	for _, l := range f.Layers {
		_, _ = io.WriteString(h.Hash(), l.Digest().String())
	}

	return &Artifact{
		Digest:    h.Digest(),
		MediaType: "application/vnd.oci.image.manifest.v1+json",
		Layers:    f.Layers,
	}, nil
}

// RawLayer is an in-memory artifact layer.
type RawLayer struct {
	Data []byte
	Name string
	Type string
}

func (l *RawLayer) Digest() digest.Digest { return digest.FromBytes(l.Data) }
func (l *RawLayer) Size() int64           { return int64(len(l.Data)) }
func (l *RawLayer) MediaType() string     { return l.Type }
func (l *RawLayer) Title() string         { return l.Name }

func (l *RawLayer) Blob(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(l.Data)), nil
}
