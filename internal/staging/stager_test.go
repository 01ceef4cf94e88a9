package staging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxdollinger/unistage/pkg/blob"
	"github.com/maxdollinger/unistage/pkg/checksum"
	"github.com/maxdollinger/unistage/pkg/descriptor"
	"github.com/maxdollinger/unistage/pkg/fs"
	"github.com/maxdollinger/unistage/pkg/lock"
	"github.com/maxdollinger/unistage/pkg/storage"
)

var memDesc = storage.MountDescriptor{Type: storage.FsTypeMem, PartitionID: "storage", MountPoint: "/lfs"}

func testBundle(t *testing.T) Bundle {
	t.Helper()
	d, err := descriptor.New(descriptor.DefaultOptions())
	require.NoError(t, err)
	return Bundle{
		Descriptor: d,
		Guest: &blob.Guest{
			Kernel:     blob.Blob{Name: "kernel", Data: []byte("unikernel image")},
			DeviceTree: blob.Blob{Name: "dtb", Data: []byte{0xd0, 0x0d, 0xfe, 0xed}},
		},
	}
}

func TestStagerRun(t *testing.T) {
	area := storage.NewMemArea("storage")
	var listing bytes.Buffer
	bundle := testBundle(t)

	res, err := NewStager(WithListing(&listing)).Run(context.Background(), area, memDesc, bundle)
	require.NoError(t, err)
	require.Len(t, res.Assets, 3)

	assert.Equal(t, descriptor.FileName, res.Assets[0].Name)
	assert.Equal(t, descriptor.KernelFileName, res.Assets[1].Name)
	assert.Equal(t, descriptor.DTBFileName, res.Assets[2].Name)

	config, err := afero.ReadFile(area.Fs(), "/config.json")
	require.NoError(t, err)
	want, err := bundle.Descriptor.Marshal()
	require.NoError(t, err)
	assert.Equal(t, want, config)

	kernelSum, err := checksum.Calculate(bundle.Guest.Kernel.Data)
	require.NoError(t, err)
	assert.Equal(t, kernelSum, res.Assets[1].Digest)
	assert.Equal(t, len(bundle.Guest.Kernel.Data), res.Assets[1].Bytes)

	names := make([]string, 0, len(res.Listing))
	for _, e := range res.Listing {
		assert.Equal(t, fs.EntryFile, e.Type)
		names = append(names, e.Name)
	}
	assert.ElementsMatch(t, []string{"config.json", "unikernel.bin", "uni.dtb"}, names)
	assert.Contains(t, listing.String(), "unikernel.bin")

	assert.Equal(t, 1, area.Unmounts)
	assert.NoError(t, res.UnmountErr)
}

func TestStagerContinuesAfterFailedWrite(t *testing.T) {
	area := storage.NewMemArea("storage")
	bundle := testBundle(t)
	bundle.Guest.Kernel.Data = nil

	res, err := NewStager().Run(context.Background(), area, memDesc, bundle)
	require.ErrorIs(t, err, ErrStaging)
	assert.ErrorIs(t, err, fs.ErrInvalidArgument)

	assert.ErrorIs(t, res.Assets[1].Err, fs.ErrInvalidArgument)
	assert.NoError(t, res.Assets[0].Err)
	assert.NoError(t, res.Assets[2].Err)

	exists, err := afero.Exists(area.Fs(), "/uni.dtb")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = afero.Exists(area.Fs(), "/unikernel.bin")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.Equal(t, 1, area.Unmounts)
}

func TestStagerMissingDescriptorAndGuest(t *testing.T) {
	area := storage.NewMemArea("storage")

	res, err := NewStager().Run(context.Background(), area, memDesc, Bundle{})
	require.ErrorIs(t, err, ErrStaging)
	require.Len(t, res.Assets, 3)
	for _, a := range res.Assets {
		assert.Error(t, a.Err, a.Name)
	}
	assert.ErrorIs(t, res.Assets[0].Err, descriptor.ErrInvalidDescriptor)
	assert.Equal(t, 1, area.Unmounts)
}

func TestStagerMountFailure(t *testing.T) {
	area := storage.NewMemArea("storage")
	area.FailMount = errors.New("no such partition")

	res, err := NewStager().Run(context.Background(), area, memDesc, testBundle(t))
	require.ErrorIs(t, err, storage.ErrStorage)
	assert.Nil(t, res)
	assert.Equal(t, 0, area.Unmounts)
}

func TestStagerUnmountFailureIsReported(t *testing.T) {
	area := storage.NewMemArea("storage")
	area.FailUnmount = errors.New("busy")

	res, err := NewStager().Run(context.Background(), area, memDesc, testBundle(t))
	require.NoError(t, err)
	assert.ErrorIs(t, res.UnmountErr, storage.ErrStorage)
	assert.Equal(t, 1, area.Unmounts)
}

func TestStagerWarnsOnDescriptorMismatch(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	opts := descriptor.DefaultOptions()
	opts.PathMode = descriptor.PathQualified
	opts.MountPoint = "/mnt"
	d, err := descriptor.New(opts)
	require.NoError(t, err)

	bundle := testBundle(t)
	bundle.Descriptor = d

	_, err = NewStager(WithLogger(logger)).Run(context.Background(), storage.NewMemArea("storage"), memDesc, bundle)
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "descriptor does not match staged layout")
	assert.Contains(t, logs.String(), "/mnt/unikernel.bin")
}

func TestStagerLockHeld(t *testing.T) {
	locker := lock.NewFlockLocker(t.TempDir())
	held, err := locker.Acquire(context.Background(), "storage")
	require.NoError(t, err)
	defer held.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	area := storage.NewMemArea("storage")
	_, err = NewStager(WithLocker(locker)).Run(ctx, area, memDesc, testBundle(t))
	require.ErrorIs(t, err, ErrStaging)
	assert.Equal(t, 0, area.Unmounts)
}
