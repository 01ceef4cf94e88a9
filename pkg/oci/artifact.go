package oci

import (
	"context"
	"io"

	"github.com/opencontainers/go-digest"
)

// TitleAnnotation names a raw artifact layer (ORAS style pushes).
const TitleAnnotation = "org.opencontainers.image.title"

// Artifact is a resolved manifest: the digest it was pulled by and its
// layers in manifest order.
type Artifact struct {
	Digest    digest.Digest
	MediaType string
	Layers    []Layer
}

// Size sums the layer sizes as reported by the manifest.
func (a *Artifact) Size() int64 {
	var size int64
	for _, l := range a.Layers {
		size += l.Size()
	}
	return size
}

// Layer is one blob of an artifact. Title is empty for filesystem layers.
type Layer interface {
	Digest() digest.Digest
	Size() int64
	MediaType() string
	Title() string
	// Blob opens the layer as stored in the registry, possibly compressed.
	// The caller closes it.
	Blob(ctx context.Context) (io.ReadCloser, error)
}

// Fetcher resolves an artifact from wherever it is kept.
type Fetcher interface {
	Fetch(ctx context.Context) (*Artifact, error)
	Ref() string
}
