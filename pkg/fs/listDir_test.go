package fs

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stagedFs(t *testing.T) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	for name, data := range map[string]string{
		"config.json":   "{}",
		"unikernel.bin": "kernel-bytes",
		"uni.dtb":       "dtb",
	} {
		_, err := WriteFile(fsys, "/lfs", name, []byte(data))
		require.NoError(t, err)
	}
	return fsys
}

func TestListDirectory(t *testing.T) {
	fsys := stagedFs(t)
	require.NoError(t, fsys.MkdirAll("/logs", 0o755))

	entries, err := ListDirectory(fsys, "/lfs", "").Collect()
	require.NoError(t, err)

	byName := map[string]DirEntry{}
	for _, e := range entries {
		byName[e.Name] = e
	}

	require.Len(t, byName, 4)
	assert.Equal(t, DirEntry{Name: "unikernel.bin", Type: EntryFile, Size: 12}, byName["unikernel.bin"])
	assert.Equal(t, DirEntry{Name: "logs", Type: EntryDir}, byName["logs"])
}

func TestListDirectoryLogicalPath(t *testing.T) {
	fsys := stagedFs(t)
	require.NoError(t, afero.WriteFile(fsys, "/logs/boot.log", []byte("ok"), 0o644))

	root, err := ListDirectory(fsys, "/lfs", "/lfs").Collect()
	require.NoError(t, err)
	assert.Len(t, root, 4)

	logs, err := ListDirectory(fsys, "/lfs", "/lfs/logs").Collect()
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "boot.log", logs[0].Name)

	logs, err = ListDirectory(fsys, "/lfs", "logs").Collect()
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestListDirectoryOutsideMountPoint(t *testing.T) {
	fsys := stagedFs(t)
	require.NoError(t, fsys.MkdirAll("/data", 0o755))

	for _, dir := range []string{"/lfsdata", "/data", "/lfs/../data"} {
		t.Run(dir, func(t *testing.T) {
			entries, err := ListDirectory(fsys, "/lfs", dir).Collect()
			require.ErrorIs(t, err, ErrInvalidArgument)
			assert.Empty(t, entries)
		})
	}
}

func TestListDirectoryNotRestartable(t *testing.T) {
	stream := ListDirectory(stagedFs(t), "/lfs", "")

	first, err := stream.Collect()
	require.NoError(t, err)
	assert.Len(t, first, 3)

	second, err := stream.Collect()
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestListDirectoryStopsEarly(t *testing.T) {
	seen := 0
	for _, err := range ListDirectory(stagedFs(t), "/lfs", "").All() {
		require.NoError(t, err)
		seen++
		break
	}
	assert.Equal(t, 1, seen)
}

func TestListDirectoryMissing(t *testing.T) {
	_, err := ListDirectory(afero.NewMemMapFs(), "/lfs", "nope").Collect()
	require.ErrorIs(t, err, ErrDirectoryRead)
}

type brokenDir struct {
	afero.File
}

func (brokenDir) Readdir(int) ([]os.FileInfo, error) { return nil, errors.New("io error") }

type brokenDirFs struct {
	afero.Fs
}

func (f brokenDirFs) Open(name string) (afero.File, error) {
	file, err := f.Fs.Open(name)
	if err != nil {
		return nil, err
	}
	return brokenDir{File: file}, nil
}

func TestListDirectoryReadError(t *testing.T) {
	var errs []error
	for _, err := range ListDirectory(brokenDirFs{Fs: stagedFs(t)}, "/lfs", "").All() {
		errs = append(errs, err)
	}

	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrDirectoryRead)
}

func TestPrintListing(t *testing.T) {
	var out bytes.Buffer
	PrintListing(&out, []DirEntry{
		{Name: "unikernel.bin", Type: EntryFile, Size: 2048},
		{Name: "logs", Type: EntryDir},
	})

	assert.Contains(t, out.String(), "unikernel.bin")
	assert.Contains(t, out.String(), "2.0 KiB")
	assert.Contains(t, out.String(), "logs")
}
