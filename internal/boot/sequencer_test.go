package boot

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/maxdollinger/unistage/internal/config"
	"github.com/maxdollinger/unistage/internal/domain"
	"github.com/maxdollinger/unistage/internal/journal"
	"github.com/maxdollinger/unistage/pkg/blob"
	"github.com/maxdollinger/unistage/pkg/fs"
	"github.com/maxdollinger/unistage/pkg/network"
	"github.com/maxdollinger/unistage/pkg/storage"
	"github.com/maxdollinger/unistage/pkg/vchan"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type failingLauncher struct {
	code  int
	calls int
}

func (l *failingLauncher) CreateDomain(ctx context.Context, cfg domain.DomainConfig, start bool) (domain.DomainID, error) {
	l.calls++
	return 0, &domain.CreateError{Code: l.code, Err: errors.New("libxl: domain build failed")}
}

// countingTransport records whether the demo tried to open a channel.
type countingTransport struct {
	vchan.Transport
	listens atomic.Int32
}

func (t *countingTransport) Listen(ctx context.Context, domid int, name string) (net.Conn, error) {
	t.listens.Add(1)
	return t.Transport.Listen(ctx, domid, name)
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Domain.StateDir = t.TempDir()
	cfg.Storage.Type = storage.FsTypeMem
	cfg.Channel.Iterations = 3
	cfg.Channel.Timeout = time.Second
	return cfg
}

func testGuest() blob.Source {
	return blob.NewStaticSource([]byte("kernel image"), []byte{0xd0, 0x0d, 0xfe, 0xed})
}

func TestSequencerFullRun(t *testing.T) {
	area := storage.NewMemArea("storage")
	var out bytes.Buffer

	s := New(testConfig(t), DefaultOptions(),
		WithArea(area),
		WithGuestSource(testGuest()),
		WithLauncher(domain.NewNoOpLauncher(2)),
		WithTransport(vchan.NewPipeTransport()),
		WithEchoPeer(),
		WithOutput(&out),
		WithVersion("v1.2.3"),
	)

	code := s.Run(context.Background())
	assert.Equal(t, 0, code)

	output := out.String()
	assert.True(t, strings.HasPrefix(output, "*** unistage v1.2.3, board xenvm ***\n"))
	assert.Contains(t, output, "unikernel.bin")
	assert.Contains(t, output, "[sample dom0 message 1")
	assert.Contains(t, output, "sample msg #0 !")

	entries, err := fs.ListDirectory(area.Fs(), "/lfs", "/lfs").Collect()
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		assert.Equal(t, fs.EntryFile, e.Type)
		names = append(names, e.Name)
	}
	assert.ElementsMatch(t, []string{"config.json", "unikernel.bin", "uni.dtb"}, names)
	assert.Equal(t, 1, area.Unmounts)
}

func TestSequencerDomainFailureSkipsDemo(t *testing.T) {
	area := storage.NewMemArea("storage")
	launcher := &failingLauncher{code: 7}
	transport := &countingTransport{Transport: vchan.NewPipeTransport()}

	s := New(testConfig(t), DefaultOptions(),
		WithArea(area),
		WithGuestSource(testGuest()),
		WithLauncher(launcher),
		WithTransport(transport),
	)

	assert.Equal(t, 7, s.Run(context.Background()))
	assert.Equal(t, 1, launcher.calls)
	assert.Equal(t, int32(0), transport.listens.Load())

	// staging still happened first
	assert.Equal(t, 1, area.Unmounts)
}

func TestSequencerStagingFailureIsNotFatal(t *testing.T) {
	area := storage.NewMemArea("storage")
	area.FailMount = errors.New("flash area 3 unavailable")
	transport := &countingTransport{Transport: vchan.NewPipeTransport()}

	s := New(testConfig(t), DefaultOptions(),
		WithArea(area),
		WithGuestSource(testGuest()),
		WithLauncher(domain.NewNoOpLauncher(1)),
		WithTransport(transport),
		WithEchoPeer(),
	)

	assert.Equal(t, 0, s.Run(context.Background()))
	assert.Equal(t, int32(1), transport.listens.Load())
	exists, err := afero.Exists(area.Fs(), "/config.json")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSequencerGuestSourceFailureStillUnmounts(t *testing.T) {
	area := storage.NewMemArea("storage")
	guest := blob.NewFileSource("/nonexistent/unikernel.bin", "/nonexistent/uni.dtb")

	opts := DefaultOptions()
	opts.EnableChannelDemo = false
	s := New(testConfig(t), opts,
		WithArea(area),
		WithGuestSource(guest),
		WithLauncher(domain.NewNoOpLauncher(1)),
	)

	assert.Equal(t, 0, s.Run(context.Background()))
	assert.Equal(t, 1, area.Unmounts)

	exists, err := afero.Exists(area.Fs(), "/config.json")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSequencerStepsDisabled(t *testing.T) {
	area := storage.NewMemArea("storage")
	transport := &countingTransport{Transport: vchan.NewPipeTransport()}

	s := New(testConfig(t), Options{},
		WithArea(area),
		WithLauncher(domain.NewNoOpLauncher(1)),
		WithTransport(transport),
	)

	assert.Equal(t, 0, s.Run(context.Background()))
	assert.Equal(t, 0, area.Unmounts)
	assert.Equal(t, int32(0), transport.listens.Load())
}

func TestSequencerNoLauncher(t *testing.T) {
	s := New(testConfig(t), Options{})
	assert.Equal(t, 1, s.Run(context.Background()))
}

func TestSequencerJournal(t *testing.T) {
	ctx := context.Background()
	db, err := journal.Open(ctx, filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer db.Close()

	opts := DefaultOptions()
	opts.EnableChannelDemo = false

	ok := New(testConfig(t), opts,
		WithArea(storage.NewMemArea("storage")),
		WithGuestSource(testGuest()),
		WithLauncher(domain.NewNoOpLauncher(4)),
		WithJournal(db),
	)
	require.Equal(t, 0, ok.Run(ctx))

	failed := New(testConfig(t), opts,
		WithArea(storage.NewMemArea("storage")),
		WithGuestSource(testGuest()),
		WithLauncher(&failingLauncher{code: 5}),
		WithJournal(db),
	)
	require.Equal(t, 5, failed.Run(ctx))

	runs, err := journal.ListRuns(ctx, db, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, 5, *runs[0].ExitCode)
	assert.Nil(t, runs[0].DomainID)
	assert.Equal(t, 0, *runs[1].ExitCode)
	assert.Equal(t, 4, *runs[1].DomainID)

	assets, err := journal.ListAssetsByRunID(ctx, db, runs[1].ID)
	require.NoError(t, err)
	require.Len(t, assets, 3)
	assert.Equal(t, "config.json", assets[0].Name)
	assert.True(t, strings.HasPrefix(assets[1].Digest, "sha256:"))
}

func TestDomainConfig(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()

	s := New(cfg, DefaultOptions(), WithArea(storage.NewDirArea("storage", dir)))
	dc := s.DomainConfig()
	assert.Equal(t, filepath.Join(dir, "unikernel.bin"), dc.KernelPath)
	assert.Equal(t, filepath.Join(dir, "uni.dtb"), dc.DeviceTreePath)
	assert.Equal(t, 64, dc.MemoryMiB)
	assert.Equal(t, []string{"pvcalls=true"}, dc.HypervisorParams)

	cfg.Domain.Kernel = "/boot/uk.bin"
	assert.Equal(t, "/boot/uk.bin", New(cfg, DefaultOptions()).DomainConfig().KernelPath)
}

func TestWireDryRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.Guest.Source = config.GuestStatic

	opts := DefaultOptions()
	opts.DryRun = true
	options, cleanup, err := Wire(context.Background(), cfg, opts)
	require.NoError(t, err)
	defer cleanup()

	var out bytes.Buffer
	options = append(options, WithOutput(&out))
	assert.Equal(t, 0, New(cfg, opts, options...).Run(context.Background()))
	assert.Contains(t, out.String(), "sample msg #0 !")

	entries, err := os.ReadDir(cfg.Domain.StateDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "dry run leaves the host state dir alone")
}

// recordingRunner answers xl like a toolstack that created domain 9.
type recordingRunner struct {
	calls [][]string
}

func (r *recordingRunner) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, args)
	if len(args) > 0 && args[0] == "domid" {
		return []byte("9\n"), nil
	}
	return nil, nil
}

func TestSequencerBootsFromMemArea(t *testing.T) {
	cfg := testConfig(t)
	cfg.Guest.Source = config.GuestStatic
	cfg.Domain.Start = false

	runner := &recordingRunner{}
	launcher := domain.NewXLLauncher(cfg.Domain.StateDir,
		domain.WithRunner(runner.run), domain.WithNetwork(network.NoOpManager{}))

	opts := DefaultOptions()
	opts.EnableChannelDemo = false
	s := New(cfg, opts,
		WithArea(storage.NewMemArea("storage")),
		WithGuestSource(testGuest()),
		WithLauncher(launcher),
	)
	require.Equal(t, 0, s.Run(context.Background()))

	dc := s.DomainConfig()
	dir := filepath.Join(cfg.Domain.StateDir, cfg.Domain.Name)
	assert.Equal(t, filepath.Join(dir, "unikernel.bin"), dc.KernelPath)
	assert.Equal(t, filepath.Join(dir, "uni.dtb"), dc.DeviceTreePath)

	kernel, err := os.ReadFile(dc.KernelPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("kernel image"), kernel)

	require.Len(t, runner.calls, 2)
	assert.Equal(t, []string{"create", "-p", launcher.ConfigPath(cfg.Domain.Name)}, runner.calls[0])
	assert.Equal(t, []string{"domid", cfg.Domain.Name}, runner.calls[1])
}

func TestSequencerStartsDomainByDefault(t *testing.T) {
	cfg := testConfig(t)
	cfg.Guest.Source = config.GuestStatic
	runner := &recordingRunner{}
	launcher := domain.NewXLLauncher(cfg.Domain.StateDir,
		domain.WithRunner(runner.run), domain.WithNetwork(network.NoOpManager{}))

	opts := DefaultOptions()
	opts.EnableStaging = false
	opts.EnableChannelDemo = false
	s := New(cfg, opts, WithGuestSource(testGuest()), WithLauncher(launcher))
	require.Equal(t, 0, s.Run(context.Background()))

	require.NotEmpty(t, runner.calls)
	assert.NotContains(t, runner.calls[0], "-p")
	assert.FileExists(t, s.DomainConfig().KernelPath)
}

func TestGuestSource(t *testing.T) {
	cfg := config.Default()

	src, err := GuestSource(cfg)
	require.NoError(t, err)
	assert.IsType(t, &blob.FileSource{}, src)

	cfg.Guest.Source = config.GuestOCI
	cfg.Guest.Image = "ghcr.io/example/hello:latest"
	src, err = GuestSource(cfg)
	require.NoError(t, err)
	assert.Equal(t, "oci:ghcr.io/example/hello:latest", src.Info())

	cfg.Guest.Source = "floppy"
	_, err = GuestSource(cfg)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}
