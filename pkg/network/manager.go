package network

import (
	"context"
	"log/slog"
)

// Manager prepares host networking before a guest domain is created.
type Manager interface {
	Prepare(ctx context.Context, cfg Config) error
}

// HostManager configures the dom0 network stack through netlink and iptables.
type HostManager struct {
	logger *slog.Logger
}

func NewHostManager() *HostManager {
	return &HostManager{logger: slog.Default()}
}

func (m *HostManager) Prepare(ctx context.Context, cfg Config) error {
	if !cfg.Enabled() {
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := EnsureBridge(cfg); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "Bridge ready", "bridge", cfg.Bridge, "address", cfg.Address)

	if cfg.NAT {
		if err := EnableNAT(cfg); err != nil {
			return err
		}
		m.logger.InfoContext(ctx, "NAT enabled", "bridge", cfg.Bridge)
	}

	return nil
}

// NoOpManager leaves the host network untouched.
type NoOpManager struct{}

func (NoOpManager) Prepare(ctx context.Context, cfg Config) error {
	return cfg.Validate()
}
