package domain

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/maxdollinger/unistage/pkg/network"
)

// renderXLConfig writes the xl domain configuration for cfg.
//
// The hypervisor parameters are prepended to the kernel command line, the
// same way the guest descriptor lists them before the kernel's own.
func renderXLConfig(cfg DomainConfig) []byte {
	var b bytes.Buffer

	fmt.Fprintf(&b, "name = %s\n", quote(cfg.Name))
	b.WriteString("type = \"pvh\"\n")
	fmt.Fprintf(&b, "kernel = %s\n", quote(cfg.KernelPath))
	if cfg.DeviceTreePath != "" {
		fmt.Fprintf(&b, "device_tree = %s\n", quote(cfg.DeviceTreePath))
	}

	args := append(append([]string{}, cfg.HypervisorParams...), cfg.KernelParams...)
	if len(args) > 0 {
		fmt.Fprintf(&b, "extra = %s\n", quote(strings.Join(args, " ")))
	}

	fmt.Fprintf(&b, "memory = %d\n", cfg.MemoryMiB)
	fmt.Fprintf(&b, "vcpus = %d\n", cfg.VCPUs)

	if cfg.Network.Enabled() {
		vif := fmt.Sprintf("mac=%s,bridge=%s", network.MACAddress(cfg.Name), cfg.Network.Bridge)
		fmt.Fprintf(&b, "vif = [ %s ]\n", quote(vif))
	}

	b.WriteString("on_crash = \"destroy\"\n")
	return b.Bytes()
}

// quote produces an xl string literal.
func quote(s string) string {
	return strconv.Quote(s)
}
