// Package fs provides the file operations used to stage guest assets into a
// mounted storage area.
//
// All functions work on an afero.Fs so the same code drives a host directory,
// a loop-mounted image and the in-memory area used in tests. Paths are given
// as a logical mount point (e.g. "/lfs") plus a name, mirroring the layout the
// guest expects to find.
package fs

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// JoinPath joins mountPoint and name and enforces MaxPathLen.
func JoinPath(mountPoint, name string) (string, error) {
	if mountPoint == "" || name == "" {
		return "", fmt.Errorf("%w: mount point and name must be set", ErrInvalidArgument)
	}

	full := strings.TrimSuffix(mountPoint, "/") + "/" + strings.TrimPrefix(name, "/")
	if len(full) >= MaxPathLen {
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrPath, len(full), MaxPathLen)
	}

	return full, nil
}

// WriteFile writes data to mountPoint/name on fsys in a single write call.
// The file is created or truncated and is always closed before returning.
func WriteFile(fsys afero.Fs, mountPoint, name string, data []byte) (n int, err error) {
	if fsys == nil || data == nil {
		return 0, fmt.Errorf("%w: filesystem and buffer must be set", ErrInvalidArgument)
	}

	full, err := JoinPath(mountPoint, name)
	if err != nil {
		return 0, err
	}

	rel, err := relative(mountPoint, full)
	if err != nil {
		return 0, err
	}

	f, err := fsys.OpenFile(rel, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %v", ErrWrite, full, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("%w: close %s: %v", ErrWrite, full, cerr))
		}
	}()

	n, err = f.Write(data)
	if err != nil {
		return n, fmt.Errorf("%w: %s: %v", ErrWrite, full, err)
	}
	if n != len(data) {
		return n, fmt.Errorf("%w: %s: short write %d of %d bytes", ErrWrite, full, n, len(data))
	}

	return n, nil
}

// ReadFile reads mountPoint/name back from fsys.
func ReadFile(fsys afero.Fs, mountPoint, name string) ([]byte, error) {
	full, err := JoinPath(mountPoint, name)
	if err != nil {
		return nil, err
	}

	rel, err := relative(mountPoint, full)
	if err != nil {
		return nil, err
	}

	return afero.ReadFile(fsys, rel)
}

// relative maps a path below mountPoint onto the root of the mounted fs.
// Only whole path components match, so "/lfsdata" is not below "/lfs".
func relative(mountPoint, full string) (string, error) {
	root := path.Clean("/" + mountPoint)
	p := path.Clean("/" + full)
	if root == "/" {
		return p, nil
	}
	if p == root {
		return "/", nil
	}

	rest, ok := strings.CutPrefix(p, root+"/")
	if !ok {
		return "", fmt.Errorf("%w: %s is outside %s", ErrInvalidArgument, full, mountPoint)
	}
	return "/" + rest, nil
}
