package network

import (
	"fmt"
	"os"

	"github.com/coreos/go-iptables/iptables"
)

// EnableNAT sets up IP forwarding and MASQUERADE so guests on the bridge
// reach the outside through dom0.
func EnableNAT(cfg Config) error {
	subnet, err := cfg.Subnet()
	if err != nil {
		return err
	}

	if err := enableIPForwarding(); err != nil {
		return err
	}

	ipt, err := iptables.New()
	if err != nil {
		return fmt.Errorf("%w: iptables: %v", ErrNAT, err)
	}

	for _, r := range natRules(cfg.Bridge, subnet) {
		if err := ipt.AppendUnique(r.table, r.chain, r.spec...); err != nil {
			return fmt.Errorf("%w: %s/%s %v: %v", ErrNAT, r.table, r.chain, r.spec, err)
		}
	}

	return nil
}

type rule struct {
	table string
	chain string
	spec  []string
}

func natRules(bridge, subnet string) []rule {
	return []rule{
		{"nat", "POSTROUTING", []string{"-s", subnet, "-j", "MASQUERADE"}},
		{"filter", "FORWARD", []string{"-i", bridge, "-j", "ACCEPT"}},
		{"filter", "FORWARD", []string{"-o", bridge, "-j", "ACCEPT"}},
	}
}

func enableIPForwarding() error {
	const ipForwardPath = "/proc/sys/net/ipv4/ip_forward"

	data, err := os.ReadFile(ipForwardPath)
	if err == nil && len(data) > 0 && data[0] == '1' {
		return nil
	}
	if err := os.WriteFile(ipForwardPath, []byte("1\n"), 0o644); err != nil {
		return fmt.Errorf("%w: enable ip forwarding: %v", ErrNAT, err)
	}
	return nil
}
