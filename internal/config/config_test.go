package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxdollinger/unistage/pkg/descriptor"
	"github.com/maxdollinger/unistage/pkg/storage"
	"github.com/maxdollinger/unistage/pkg/vchan"
)

const boardYAML = `
board: rcar-h3
storage:
  type: mem
  partition: lfs0
  size: 16MiB
guest:
  source: oci
  image: ghcr.io/example/unikraft-hello:latest
  platform: linux/arm64
descriptor:
  path_mode: qualified
domain:
  name: hello
  memory: 128MiB
  vcpus: 2
  timeout: 10s
network:
  bridge: xenbr0
  address: 10.0.0.1/24
  nat: true
channel:
  transport: pipe
  send_buf: 1KiB
  recv_buf: "512"
`

func writeBoard(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "board.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func noEnv(string) (string, bool) { return "", false }

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "sample_vchan", cfg.Channel.Name)
	assert.Equal(t, Size(128), cfg.Channel.SendBuf)
	assert.Equal(t, Size(256), cfg.Channel.RecvBuf)
	assert.Equal(t, 100, cfg.Channel.Iterations)
	assert.Equal(t, descriptor.PathBare, cfg.Descriptor.PathMode)
	assert.Equal(t, storage.DefaultMountPoint, cfg.Storage.MountPoint)
	assert.Equal(t, vchan.Blocking, cfg.ChannelMode())

	cfg.Channel.Mode = "nonblocking"
	assert.Equal(t, vchan.NonBlocking, cfg.ChannelMode())
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeBoard(t, boardYAML))
	require.NoError(t, err)

	assert.Equal(t, "rcar-h3", cfg.Board)
	assert.Equal(t, storage.FsTypeMem, cfg.Storage.Type)
	assert.Equal(t, Size(16<<20), cfg.Storage.Size)
	assert.Equal(t, GuestOCI, cfg.Guest.Source)
	assert.Equal(t, 128, cfg.Domain.Memory.MiB())
	assert.Equal(t, 10*time.Second, cfg.Domain.Timeout)
	assert.True(t, cfg.Network.NAT)
	assert.Equal(t, 1024, cfg.Channel.SendBuf.Int())
	assert.Equal(t, 512, cfg.Channel.RecvBuf.Int())

	// untouched fields keep their defaults
	assert.Equal(t, "sample_vchan", cfg.Channel.Name)
	assert.Equal(t, []string{"pvcalls=true"}, cfg.Descriptor.HypervisorParams)

	md := cfg.MountDescriptor()
	assert.Equal(t, "lfs0", md.PartitionID)
	assert.Equal(t, int64(16<<20), md.SizeBytes)

	opts := cfg.DescriptorOptions()
	assert.Equal(t, descriptor.PathQualified, opts.PathMode)
	assert.Equal(t, "/lfs", opts.MountPoint)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeBoard(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default().Board, cfg.Board)
}

func TestLoadPausedDomain(t *testing.T) {
	assert.True(t, Default().Domain.Start)

	cfg, err := Load(writeBoard(t, "domain:\n  start: false\n"))
	require.NoError(t, err)
	assert.False(t, cfg.Domain.Start)
	assert.Equal(t, "unikernel", cfg.Domain.Name)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load(writeBoard(t, "storage:\n  flavour: fast\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"UNISTAGE_BOARD":         "qemu-xen",
		"UNISTAGE_STORAGE_TYPE":  "ext4",
		"UNISTAGE_DOMAIN_MEMORY": "32MiB",
		"UNISTAGE_CHANNEL_DOMID": "5",
		"UNISTAGE_LOG_FORMAT":    "text",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(lookup))
	assert.Equal(t, "qemu-xen", cfg.Board)
	assert.Equal(t, storage.FsTypeExt4, cfg.Storage.Type)
	assert.Equal(t, 32, cfg.Domain.Memory.MiB())
	assert.Equal(t, 5, cfg.Channel.DomID)
	assert.Equal(t, "text", cfg.Log.Format)

	env["UNISTAGE_CHANNEL_DOMID"] = "dom5"
	assert.ErrorIs(t, Default().ApplyEnv(lookup), ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"storage type", func(c *Config) { c.Storage.Type = "fat" }},
		{"partition", func(c *Config) { c.Storage.Partition = "" }},
		{"oci without image", func(c *Config) { c.Guest.Source = GuestOCI }},
		{"path mode", func(c *Config) { c.Descriptor.PathMode = "relative" }},
		{"domain name", func(c *Config) { c.Domain.Name = "" }},
		{"network", func(c *Config) { c.Network.Bridge = "xenbr0"; c.Network.Address = "bad" }},
		{"transport", func(c *Config) { c.Channel.Transport = "vsock" }},
		{"mode", func(c *Config) { c.Channel.Mode = "async" }},
		{"empty buffer", func(c *Config) { c.Channel.SendBuf = 0 }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
	assert.NoError(t, Default().ApplyEnv(noEnv))
}

func TestSize(t *testing.T) {
	s, err := ParseSize("64MiB")
	require.NoError(t, err)
	assert.Equal(t, 64, s.MiB())
	assert.Equal(t, "64 MiB", s.String())

	var flag Size
	require.NoError(t, flag.Set("2KiB"))
	assert.Equal(t, 2048, flag.Int())
	assert.Equal(t, "size", flag.Type())
	assert.Error(t, flag.Set("lots"))
}

func TestMarshalRoundTrip(t *testing.T) {
	out, err := Default().Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(out), "send_buf: 128 B")

	path := writeBoard(t, string(out))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Channel, cfg.Channel)
}
