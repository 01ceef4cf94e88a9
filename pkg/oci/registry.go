// Package oci pulls guest kernel and device tree images from an OCI registry.
// Both tarball layers and raw, title-annotated artifact layers are understood.
package oci

import (
	"context"
	"fmt"
	"io"
	"runtime"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/opencontainers/go-digest"
)

// Registry fetches artifacts with go-containerregistry. Credentials come
// from the docker config keychain. Fetch reads the manifest only, layer
// content is downloaded when a layer blob is opened.
type Registry struct {
	ref      name.Reference
	platform string
}

// NewRegistry parses ref. Short names resolve against Docker Hub, so
// "unikernel" means index.docker.io/library/unikernel:latest.
func NewRegistry(ref string) (*Registry, error) {
	parsed, err := name.ParseReference(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid artifact reference %q: %w", ref, err)
	}

	return &Registry{
		ref:      parsed,
		platform: "linux/" + runtime.GOARCH,
	}, nil
}

// WithPlatform selects the entry picked from an index. The default is
// linux/GOARCH.
func (r *Registry) WithPlatform(platform string) *Registry {
	r.platform = platform
	return r
}

func (r *Registry) Ref() string { return r.ref.Name() }

func (r *Registry) Fetch(ctx context.Context) (*Artifact, error) {
	platform, err := v1.ParsePlatform(r.platform)
	if err != nil {
		return nil, fmt.Errorf("platform %q: %w", r.platform, err)
	}

	img, err := remote.Image(r.ref,
		remote.WithContext(ctx),
		remote.WithPlatform(*platform),
		remote.WithAuthFromKeychain(authn.DefaultKeychain),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", r.Ref(), err)
	}

	manifest, err := img.Manifest()
	if err != nil {
		return nil, fmt.Errorf("read manifest of %s: %w", r.Ref(), err)
	}
	dgst, err := img.Digest()
	if err != nil {
		return nil, fmt.Errorf("digest of %s: %w", r.Ref(), err)
	}

	layers := make([]Layer, 0, len(manifest.Layers))
	for _, desc := range manifest.Layers {
		l, err := img.LayerByDigest(desc.Digest)
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", desc.Digest, err)
		}
		layers = append(layers, &remoteLayer{desc: desc, layer: l})
	}

	return &Artifact{
		Digest:    digest.Digest(dgst.String()),
		MediaType: string(manifest.MediaType),
		Layers:    layers,
	}, nil
}

// remoteLayer answers metadata from the manifest descriptor so nothing is
// downloaded until Blob is called.
type remoteLayer struct {
	desc  v1.Descriptor
	layer v1.Layer
}

func (l *remoteLayer) Digest() digest.Digest { return digest.Digest(l.desc.Digest.String()) }
func (l *remoteLayer) Size() int64           { return l.desc.Size }
func (l *remoteLayer) MediaType() string     { return string(l.desc.MediaType) }
func (l *remoteLayer) Title() string         { return l.desc.Annotations[TitleAnnotation] }

func (l *remoteLayer) Blob(ctx context.Context) (io.ReadCloser, error) {
	rc, err := l.layer.Compressed()
	if err != nil {
		return nil, fmt.Errorf("open layer %s: %w", l.desc.Digest, err)
	}
	return rc, nil
}
