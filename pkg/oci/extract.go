package oci

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

var ErrFileNotFound = errors.New("file not found in image")

// MaxFileSize bounds a single extracted file.
const MaxFileSize = 512 << 20

// ExtractFiles reads the named root-level files out of layers, applied in
// order. Raw layers match on their title annotation, tar layers on the entry
// path. A later layer overrides an earlier one and OCI whiteouts delete.
func ExtractFiles(ctx context.Context, layers []Layer, names ...string) (map[string][]byte, error) {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	files := make(map[string][]byte, len(names))
	for i, layer := range layers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var err error
		if layer.Title() != "" && !isTarMediaType(layer.MediaType()) {
			err = extractRaw(ctx, layer, wanted, files)
		} else {
			err = extractTar(ctx, layer, wanted, files)
		}
		if err != nil {
			return nil, fmt.Errorf("extract layer %d (%s): %w", i, layer.Digest(), err)
		}
	}

	for _, n := range names {
		if _, ok := files[n]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, n)
		}
	}

	return files, nil
}

func isTarMediaType(mediaType string) bool {
	return strings.Contains(mediaType, "tar")
}

func extractRaw(ctx context.Context, layer Layer, wanted map[string]bool, files map[string][]byte) error {
	title := path.Clean(layer.Title())
	if !wanted[title] {
		return nil
	}

	reader, err := layer.Blob(ctx)
	if err != nil {
		return err
	}
	defer reader.Close()

	data, err := readLimited(reader)
	if err != nil {
		return fmt.Errorf("read %s: %w", title, err)
	}
	files[title] = data
	return nil
}

func extractTar(ctx context.Context, layer Layer, wanted map[string]bool, files map[string][]byte) error {
	reader, err := layer.Blob(ctx)
	if err != nil {
		return err
	}
	defer reader.Close()

	stream, closeFn, err := maybeGunzip(reader)
	if err != nil {
		return err
	}
	defer closeFn()

	tarReader := tar.NewReader(stream)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		name, err := entryName(header.Name)
		if err != nil {
			return err
		}

		if target, ok := strings.CutPrefix(name, ".wh."); ok {
			// opaque whiteouts only matter for directories, not root files
			delete(files, target)
			continue
		}

		if !wanted[name] || header.Typeflag != tar.TypeReg {
			continue
		}

		data, err := readLimited(tarReader)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		files[name] = data
	}
}

// entryName sanitizes a tar entry path and rejects traversal.
func entryName(raw string) (string, error) {
	for _, part := range strings.Split(raw, "/") {
		if part == ".." {
			return "", fmt.Errorf("path traversal detected: %s", raw)
		}
	}
	return strings.TrimPrefix(path.Clean("/"+raw), "/"), nil
}

func maybeGunzip(r io.Reader) (io.Reader, func(), error) {
	buffered := bufio.NewReader(r)
	magic, err := buffered.Peek(2)
	if err != nil && err != io.EOF {
		return nil, nil, fmt.Errorf("peek layer: %w", err)
	}

	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(buffered)
		if err != nil {
			return nil, nil, fmt.Errorf("decompress gzip: %w", err)
		}
		return gz, func() { _ = gz.Close() }, nil
	}

	return buffered, func() {}, nil
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxFileSize {
		return nil, fmt.Errorf("file exceeds %d bytes", MaxFileSize)
	}
	return data, nil
}
