// Package domain creates Xen guest domains from staged unikernel assets.
package domain

import (
	"context"
	"time"

	"github.com/maxdollinger/unistage/pkg/network"
)

// DomainID is the Xen domain id assigned by the toolstack.
type DomainID int

// Launcher creates guest domains.
type Launcher interface {
	// CreateDomain builds the domain described by cfg. When start is false the
	// domain is left paused. Failures are returned as *CreateError.
	CreateDomain(ctx context.Context, cfg DomainConfig, start bool) (DomainID, error)
}

// DomainConfig mirrors the guest descriptor with host paths filled in.
type DomainConfig struct {
	Name             string
	HypervisorPath   string
	HypervisorParams []string
	KernelPath       string // host path of the kernel image
	KernelParams     []string
	DeviceTreePath   string // host path of the device tree blob
	MemoryMiB        int    // default: 64
	VCPUs            int    // default: 1
	Network          network.Config
	Timeout          time.Duration // bounds each xl invocation
}

const (
	DefaultMemoryMiB = 64
	DefaultVCPUs     = 1
	DefaultTimeout   = 30 * time.Second
)

func (c DomainConfig) withDefaults() DomainConfig {
	if c.MemoryMiB <= 0 {
		c.MemoryMiB = DefaultMemoryMiB
	}
	if c.VCPUs <= 0 {
		c.VCPUs = DefaultVCPUs
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}
