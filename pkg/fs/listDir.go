package fs

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"
)

type EntryType int

const (
	EntryFile EntryType = iota
	EntryDir
)

func (t EntryType) String() string {
	if t == EntryDir {
		return "dir"
	}
	return "file"
}

// DirEntry is one item reported by a DirStream. Size is only set for files.
type DirEntry struct {
	Name string
	Type EntryType
	Size int64
}

// DirStream lazily enumerates a directory, one entry per read.
// It can be consumed only once.
type DirStream struct {
	fsys     afero.Fs
	path     string
	display  string
	err      error
	consumed bool
}

// ListDirectory returns a stream over dir, given either as a logical path
// ("/lfs/logs") or relative to the mount point ("logs"). An empty dir lists
// the mount root. A logical path outside the mount point fails with
// ErrInvalidArgument.
func ListDirectory(fsys afero.Fs, mountPoint, dir string) *DirStream {
	display := mountPoint
	switch {
	case dir == "" || dir == "/":
	case strings.HasPrefix(dir, "/"):
		display = path.Clean(dir)
	default:
		display = path.Join(mountPoint, dir)
	}

	rel, err := relative(mountPoint, display)
	return &DirStream{
		fsys:    fsys,
		path:    rel,
		display: display,
		err:     err,
	}
}

// All yields the entries of the directory. Enumeration stops at the end of
// the stream, at an entry without a name, or after yielding the first read
// error. Calls after the first yield nothing.
func (s *DirStream) All() iter.Seq2[DirEntry, error] {
	return func(yield func(DirEntry, error) bool) {
		if s.consumed {
			return
		}
		s.consumed = true

		if s.fsys == nil {
			yield(DirEntry{}, fmt.Errorf("%w: no filesystem", ErrInvalidArgument))
			return
		}
		if s.err != nil {
			yield(DirEntry{}, s.err)
			return
		}

		dir, err := s.fsys.Open(s.path)
		if err != nil {
			yield(DirEntry{}, fmt.Errorf("%w: open %s: %v", ErrDirectoryRead, s.display, err))
			return
		}
		defer dir.Close()

		for {
			infos, err := dir.Readdir(1)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(DirEntry{}, fmt.Errorf("%w: %s: %v", ErrDirectoryRead, s.display, err))
				return
			}
			if len(infos) == 0 || infos[0].Name() == "" {
				return
			}

			if !yield(toEntry(infos[0]), nil) {
				return
			}
		}
	}
}

// Collect drains the stream into a slice.
func (s *DirStream) Collect() ([]DirEntry, error) {
	var entries []DirEntry
	for entry, err := range s.All() {
		if err != nil {
			return entries, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func toEntry(info os.FileInfo) DirEntry {
	if info.IsDir() {
		return DirEntry{Name: info.Name(), Type: EntryDir}
	}
	return DirEntry{Name: info.Name(), Type: EntryFile, Size: info.Size()}
}
