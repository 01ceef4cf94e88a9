// Package boot runs the control-domain boot sequence: stage the guest
// assets, create the guest domain and talk to it over a vchan.
package boot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/maxdollinger/unistage/internal/config"
	"github.com/maxdollinger/unistage/internal/demo"
	"github.com/maxdollinger/unistage/internal/domain"
	"github.com/maxdollinger/unistage/internal/journal"
	"github.com/maxdollinger/unistage/internal/staging"
	"github.com/maxdollinger/unistage/pkg/blob"
	"github.com/maxdollinger/unistage/pkg/descriptor"
	"github.com/maxdollinger/unistage/pkg/fs"
	"github.com/maxdollinger/unistage/pkg/lock"
	"github.com/maxdollinger/unistage/pkg/storage"
	"github.com/maxdollinger/unistage/pkg/vchan"
)

// Options select the steps of a run.
type Options struct {
	EnableStaging     bool
	EnableListing     bool
	EnableChannelDemo bool
	StartDomain       bool
	DryRun            bool
}

// DefaultOptions runs every step.
func DefaultOptions() Options {
	return Options{
		EnableStaging:     true,
		EnableListing:     true,
		EnableChannelDemo: true,
		StartDomain:       true,
	}
}

type Sequencer struct {
	cfg     *config.Config
	opts    Options
	version string

	area      storage.Area
	guest     blob.Source
	stager    *staging.Stager
	locker    lock.Locker
	launcher  domain.Launcher
	transport vchan.Transport
	journal   *sql.DB
	echoPeer  bool

	// host copies of images that only live inside a non-directory area
	hostFs     afero.Fs
	images     *blob.Guest
	hostKernel string
	hostDTB    string

	out    io.Writer
	logger *slog.Logger
}

type Option func(*Sequencer)

func WithArea(a storage.Area) Option { return func(s *Sequencer) { s.area = a } }
func WithGuestSource(g blob.Source) Option { return func(s *Sequencer) { s.guest = g } }
func WithStager(st *staging.Stager) Option { return func(s *Sequencer) { s.stager = st } }
func WithLocker(l lock.Locker) Option { return func(s *Sequencer) { s.locker = l } }
func WithLauncher(l domain.Launcher) Option { return func(s *Sequencer) { s.launcher = l } }
func WithTransport(t vchan.Transport) Option { return func(s *Sequencer) { s.transport = t } }
func WithJournal(db *sql.DB) Option { return func(s *Sequencer) { s.journal = db } }
func WithOutput(w io.Writer) Option { return func(s *Sequencer) { s.out = w } }
func WithLogger(logger *slog.Logger) Option { return func(s *Sequencer) { s.logger = logger } }
func WithVersion(version string) Option { return func(s *Sequencer) { s.version = version } }

// WithHostFs sets where host copies of the guest images are written.
func WithHostFs(fsys afero.Fs) Option { return func(s *Sequencer) { s.hostFs = fsys } }

// WithEchoPeer answers the channel demo from inside the process, standing in
// for the guest.
func WithEchoPeer() Option { return func(s *Sequencer) { s.echoPeer = true } }

func New(cfg *config.Config, opts Options, options ...Option) *Sequencer {
	s := &Sequencer{
		cfg:     cfg,
		opts:    opts,
		version: "dev",
		hostFs:  afero.NewOsFs(),
		out:     io.Discard,
		logger:  slog.Default(),
	}
	for _, o := range options {
		o(s)
	}
	if s.stager == nil {
		stagerOpts := []staging.Option{staging.WithLogger(s.logger)}
		if opts.EnableListing {
			stagerOpts = append(stagerOpts, staging.WithListing(s.out))
		}
		if s.locker != nil {
			stagerOpts = append(stagerOpts, staging.WithLocker(s.locker))
		}
		s.stager = staging.NewStager(stagerOpts...)
	}
	return s
}

// Run executes the sequence and returns the process exit status: the
// domain creation code if that failed, 0 otherwise.
func (s *Sequencer) Run(ctx context.Context) int {
	fmt.Fprintf(s.out, "*** unistage %s, board %s ***\n", s.version, s.cfg.Board)

	runID := s.startRun(ctx)
	logger := s.logger
	if runID != "" {
		logger = logger.With("run_id", runID)
	}

	if s.opts.EnableStaging {
		res := s.stage(ctx, logger)
		s.recordAssets(ctx, runID, res)
	}

	domid, err := s.createDomain(ctx, logger)
	if err != nil {
		code := domain.ExitCode(err)
		logger.ErrorContext(ctx, "failed to create domain", "code", code, "error", err)
		s.finishRun(ctx, runID, nil, code, err)
		return code
	}

	if s.opts.EnableChannelDemo {
		s.channelDemo(ctx, logger, domid)
	}

	id := int(domid)
	s.finishRun(ctx, runID, &id, 0, nil)
	return 0
}

func (s *Sequencer) stage(ctx context.Context, logger *slog.Logger) *staging.Result {
	if s.area == nil {
		logger.WarnContext(ctx, "no storage area configured, skipping staging")
		return nil
	}

	bundle := staging.Bundle{}

	d, err := descriptor.New(s.cfg.DescriptorOptions())
	if err != nil {
		logger.WarnContext(ctx, "failed to build guest descriptor", "error", err)
	}
	bundle.Descriptor = d

	if s.guest != nil {
		guest, err := s.guest.Guest(ctx)
		if err != nil {
			logger.WarnContext(ctx, "failed to load guest images", "source", s.guest.Info(), "error", err)
		}
		bundle.Guest = guest
		s.images = guest
	}

	res, err := s.stager.Run(ctx, s.area, s.cfg.MountDescriptor(), bundle)
	if err != nil {
		logger.WarnContext(ctx, "staging incomplete", "error", err)
	}
	return res
}

func (s *Sequencer) createDomain(ctx context.Context, logger *slog.Logger) (domain.DomainID, error) {
	if s.launcher == nil {
		return 0, &domain.CreateError{Code: 1, Err: errors.New("no domain launcher configured")}
	}

	s.hostImages(ctx, logger)
	cfg := s.DomainConfig()
	start := s.opts.StartDomain && s.cfg.Domain.Start
	id, err := s.launcher.CreateDomain(ctx, cfg, start)
	if err != nil {
		return 0, err
	}
	logger.InfoContext(ctx, "domain created", "domain", cfg.Name, "domid", id, "paused", !start)
	return id, nil
}

// hostImages writes the guest images under the domain state dir when the
// board names no host path for them, so xl can read what an ext4 or memory
// area holds. Failures are logged; the launcher then reports the missing
// kernel itself.
func (s *Sequencer) hostImages(ctx context.Context, logger *slog.Logger) {
	dc := s.DomainConfig()
	if dc.KernelPath != "" && dc.DeviceTreePath != "" {
		return
	}

	guest := s.images
	if guest == nil && s.guest != nil {
		g, err := s.guest.Guest(ctx)
		if err != nil {
			logger.WarnContext(ctx, "failed to load guest images", "source", s.guest.Info(), "error", err)
		}
		guest = g
	}
	if guest == nil {
		return
	}

	dir := filepath.Join(s.cfg.Domain.StateDir, s.cfg.Domain.Name)
	if err := s.hostFs.MkdirAll(dir, 0o755); err != nil {
		logger.WarnContext(ctx, "failed to create domain state dir", "dir", dir, "error", err)
		return
	}

	write := func(b blob.Blob, file string) string {
		if b.Data == nil {
			return ""
		}
		p := filepath.Join(dir, file)
		if err := fs.WriteFileAtomic(s.hostFs, p, b.Data, 0o644); err != nil {
			logger.WarnContext(ctx, "failed to write host image", "path", p, "error", err)
			return ""
		}
		return p
	}
	if dc.KernelPath == "" {
		s.hostKernel = write(guest.Kernel, descriptor.KernelFileName)
	}
	if dc.DeviceTreePath == "" {
		s.hostDTB = write(guest.DeviceTree, descriptor.DTBFileName)
	}
}

// DomainConfig derives the launcher input from the board config. Images
// default to their staged location when the area is a host directory, and
// to the host copies written under the state dir otherwise.
func (s *Sequencer) DomainConfig() domain.DomainConfig {
	kernel, dtb := s.cfg.Domain.Kernel, s.cfg.Domain.DTB
	if dir, ok := s.area.(*storage.DirArea); ok {
		if kernel == "" {
			kernel = filepath.Join(dir.Dir(), descriptor.KernelFileName)
		}
		if dtb == "" {
			dtb = filepath.Join(dir.Dir(), descriptor.DTBFileName)
		}
	}
	if kernel == "" && s.cfg.Guest.Source == config.GuestFile {
		kernel = s.cfg.Guest.Kernel
	}
	if dtb == "" && s.cfg.Guest.Source == config.GuestFile {
		dtb = s.cfg.Guest.DeviceTree
	}
	if kernel == "" {
		kernel = s.hostKernel
	}
	if dtb == "" {
		dtb = s.hostDTB
	}

	return domain.DomainConfig{
		Name:             s.cfg.Domain.Name,
		HypervisorPath:   s.cfg.Descriptor.Hypervisor,
		HypervisorParams: s.cfg.Descriptor.HypervisorParams,
		KernelPath:       kernel,
		KernelParams:     s.cfg.Descriptor.KernelParams,
		DeviceTreePath:   dtb,
		MemoryMiB:        s.cfg.Domain.Memory.MiB(),
		VCPUs:            s.cfg.Domain.VCPUs,
		Network:          s.cfg.Network,
		Timeout:          s.cfg.Domain.Timeout,
	}
}

func (s *Sequencer) channelDemo(ctx context.Context, logger *slog.Logger, domid domain.DomainID) {
	if s.transport == nil {
		logger.WarnContext(ctx, "no channel transport configured, skipping demo")
		return
	}

	chCfg := s.cfg.Channel
	mode := s.cfg.ChannelMode()

	var wg sync.WaitGroup
	defer wg.Wait()

	peerCtx, stopPeer := context.WithCancel(ctx)
	defer stopPeer()
	if s.echoPeer {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runEchoPeer(peerCtx, logger, int(domid))
		}()
	}

	ch, err := vchan.Open(ctx, s.transport, int(domid), chCfg.Name, chCfg.SendBuf.Int(), chCfg.RecvBuf.Int(), mode,
		vchan.WithTimeout(chCfg.Timeout), vchan.WithLogger(logger))
	if err != nil {
		logger.WarnContext(ctx, "failed to open channel", "error", err)
		return
	}

	runner := demo.NewRunner(
		demo.WithIterations(chCfg.Iterations),
		demo.WithOutput(s.out),
		demo.WithLogger(logger),
	)
	runner.Run(ctx, ch)
}

func (s *Sequencer) runEchoPeer(ctx context.Context, logger *slog.Logger, domid int) {
	peer, err := vchan.Connect(ctx, s.transport, domid, s.cfg.Channel.Name, vchan.Blocking)
	if err != nil {
		logger.WarnContext(ctx, "echo peer failed to connect", "error", err)
		return
	}
	defer peer.Close()

	if _, err := demo.Echo(ctx, peer); err != nil && !errors.Is(err, context.Canceled) {
		logger.WarnContext(ctx, "echo peer stopped", "error", err)
	}
}

func (s *Sequencer) startRun(ctx context.Context) string {
	if s.journal == nil {
		return ""
	}
	run, err := journal.InsertRun(ctx, s.journal, s.cfg.Board)
	if err != nil {
		s.logger.WarnContext(ctx, "journal unavailable", "error", err)
		return ""
	}
	return run.ID
}

func (s *Sequencer) recordAssets(ctx context.Context, runID string, res *staging.Result) {
	if runID == "" || res == nil {
		return
	}
	for _, a := range res.Assets {
		asset := &journal.Asset{RunID: runID, Name: a.Name, Bytes: a.Bytes, Digest: a.Digest.String()}
		if a.Err != nil {
			msg := a.Err.Error()
			asset.Error = &msg
		}
		if err := journal.InsertAsset(ctx, s.journal, asset); err != nil {
			s.logger.WarnContext(ctx, "failed to journal asset", "name", a.Name, "error", err)
		}
	}
}

func (s *Sequencer) finishRun(ctx context.Context, runID string, domid *int, code int, runErr error) {
	if runID == "" {
		return
	}
	if err := journal.FinishRun(ctx, s.journal, runID, domid, code, runErr); err != nil {
		s.logger.WarnContext(ctx, "failed to journal run outcome", "error", err)
	}
}
