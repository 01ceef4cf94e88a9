package domain

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/maxdollinger/unistage/pkg/fs"
	"github.com/maxdollinger/unistage/pkg/network"
)

// CommandRunner runs a toolstack command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// XLLauncher creates domains through the xl toolstack.
type XLLauncher struct {
	binaryPath string // path to the xl binary
	stateDir   string // per-domain configs and logs
	run        CommandRunner
	network    network.Manager
	logger     *slog.Logger
}

type XLOption func(*XLLauncher)

func WithRunner(run CommandRunner) XLOption {
	return func(l *XLLauncher) { l.run = run }
}

func WithNetwork(m network.Manager) XLOption {
	return func(l *XLLauncher) { l.network = m }
}

// NewXLLauncher creates a launcher keeping its files under stateDir.
// It reads the xl binary path from UNISTAGE_XL_BIN, or defaults to
// /usr/sbin/xl if not set.
func NewXLLauncher(stateDir string, opts ...XLOption) *XLLauncher {
	binaryPath := os.Getenv("UNISTAGE_XL_BIN")
	if binaryPath == "" {
		binaryPath = "/usr/sbin/xl"
	}

	l := &XLLauncher{
		binaryPath: binaryPath,
		stateDir:   stateDir,
		run:        execRunner,
		network:    network.NewHostManager(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *XLLauncher) BinaryPath() string { return l.binaryPath }

// ConfigPath is where the rendered xl config for a domain is written.
func (l *XLLauncher) ConfigPath(name string) string {
	return filepath.Join(l.stateDir, name, "domain.cfg")
}

// CreateDomain launches a guest domain.
// Process:
//  1. Validate configuration (kernel and device tree exist)
//  2. Prepare the bridge and NAT if networking is configured
//  3. Render and atomically write the xl config
//  4. Run xl create, paused unless start is set
//  5. Resolve the domain id with xl domid
func (l *XLLauncher) CreateDomain(ctx context.Context, cfg DomainConfig, start bool) (DomainID, error) {
	cfg = cfg.withDefaults()
	logger := l.logger.With("domain", cfg.Name)

	logger.InfoContext(ctx, "creating domain",
		"kernel", cfg.KernelPath,
		"memory_mib", cfg.MemoryMiB,
		"vcpus", cfg.VCPUs,
		"start", start)

	// Step 1: Validate inputs
	if err := validateConfig(cfg); err != nil {
		return 0, &CreateError{Code: 1, Err: err}
	}

	// Step 2: Host networking
	if err := l.network.Prepare(ctx, cfg.Network); err != nil {
		return 0, &CreateError{Code: 1, Err: fmt.Errorf("prepare network: %w", err)}
	}

	// Step 3: Write xl config
	domDir := filepath.Join(l.stateDir, cfg.Name)
	if err := os.MkdirAll(domDir, 0o755); err != nil {
		return 0, &CreateError{Code: 1, Err: fmt.Errorf("create domain directory: %w", err)}
	}

	configPath := l.ConfigPath(cfg.Name)
	if err := fs.WriteFileAtomic(afero.NewOsFs(), configPath, renderXLConfig(cfg), 0o644); err != nil {
		return 0, &CreateError{Code: 1, Err: fmt.Errorf("write xl config: %w", err)}
	}

	// Step 4: xl create
	args := []string{"create"}
	if !start {
		args = append(args, "-p")
	}
	args = append(args, configPath)

	out, err := l.runWithTimeout(ctx, cfg, args...)
	l.appendLog(ctx, domDir, args, out)
	if err != nil {
		ce := newCreateError(fmt.Errorf("xl %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out))))
		logger.WarnContext(ctx, "xl create failed", "code", ce.Code, "error", err)
		return 0, ce
	}

	// Step 5: Resolve domain id
	out, err = l.runWithTimeout(ctx, cfg, "domid", cfg.Name)
	if err != nil {
		return 0, newCreateError(fmt.Errorf("xl domid %s: %w", cfg.Name, err))
	}
	id, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, &CreateError{Code: 1, Err: fmt.Errorf("parse domain id %q: %w", strings.TrimSpace(string(out)), err)}
	}

	logger.InfoContext(ctx, "domain created", "domid", id, "config", configPath)
	return DomainID(id), nil
}

func (l *XLLauncher) runWithTimeout(ctx context.Context, cfg DomainConfig, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	return l.run(ctx, l.binaryPath, args...)
}

// appendLog keeps toolstack output next to the config for debugging.
func (l *XLLauncher) appendLog(ctx context.Context, domDir string, args []string, out []byte) {
	logFile, err := os.OpenFile(filepath.Join(domDir, "xl.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		l.logger.WarnContext(ctx, "failed to open xl log", "error", err)
		return
	}
	defer logFile.Close()

	fmt.Fprintf(logFile, "$ xl %s\n%s\n", strings.Join(args, " "), out)
}

func validateConfig(cfg DomainConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("%w: empty domain name", ErrInvalidConfig)
	}
	if _, err := os.Stat(cfg.KernelPath); err != nil {
		return fmt.Errorf("kernel not found at %s: %w", cfg.KernelPath, err)
	}
	if cfg.DeviceTreePath != "" {
		if _, err := os.Stat(cfg.DeviceTreePath); err != nil {
			return fmt.Errorf("device tree not found at %s: %w", cfg.DeviceTreePath, err)
		}
	}
	return nil
}
