package fs

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// WriteFileAtomic writes data to a temp file next to filePath and renames it
// into place. Atomicity only holds when both live on the same filesystem.
func WriteFileAtomic(fsys afero.Fs, filePath string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(filePath)
	tmp, err := afero.TempFile(fsys, dir, "."+filepath.Base(filePath)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	defer func() { _ = fsys.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		return errors.Join(err, tmp.Close())
	}

	if err := tmp.Sync(); err != nil {
		return errors.Join(err, tmp.Close())
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	if err := fsys.Chmod(tmpName, perm); err != nil {
		return err
	}

	if err := fsys.Rename(tmpName, filePath); err != nil {
		return err
	}

	// only a real directory needs an fsync for the rename to survive power loss
	if _, ok := fsys.(*afero.OsFs); !ok {
		return nil
	}
	dfd, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer dfd.Close()
	return dfd.Sync()
}
