package network

import (
	"fmt"

	"github.com/vishvananda/netlink"
)

// EnsureBridge creates the bridge when it is missing, gives it the
// configured address and brings it up. Running it again changes nothing.
func EnsureBridge(cfg Config) error {
	bridge, err := findBridge(cfg.Bridge)
	if err != nil {
		return err
	}
	if bridge == nil {
		attrs := netlink.NewLinkAttrs()
		attrs.Name = cfg.Bridge
		bridge = &netlink.Bridge{LinkAttrs: attrs}
		if err := netlink.LinkAdd(bridge); err != nil {
			return fmt.Errorf("%w: create %s: %v", ErrBridge, cfg.Bridge, err)
		}
	}

	if cfg.Address != "" {
		if err := assignAddress(bridge, cfg.Address); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrBridge, cfg.Bridge, err)
		}
	}

	if err := netlink.LinkSetUp(bridge); err != nil {
		return fmt.Errorf("%w: set %s up: %v", ErrBridge, cfg.Bridge, err)
	}
	return nil
}

// findBridge returns nil when the link cannot be found. A link of another
// type is an error, xl cannot attach vifs to it.
func findBridge(name string) (*netlink.Bridge, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return nil, nil
	}

	bridge, ok := link.(*netlink.Bridge)
	if !ok {
		return nil, fmt.Errorf("%w: %s is a %s link, not a bridge", ErrBridge, name, link.Type())
	}
	return bridge, nil
}

func assignAddress(bridge *netlink.Bridge, cidr string) error {
	addr, err := netlink.ParseAddr(cidr)
	if err != nil {
		return err
	}

	existing, err := netlink.AddrList(bridge, netlink.FAMILY_V4)
	if err != nil {
		return err
	}
	for _, a := range existing {
		if a.IP.Equal(addr.IP) {
			return nil
		}
	}
	return netlink.AddrReplace(bridge, addr)
}
