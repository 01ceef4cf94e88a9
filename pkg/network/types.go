package network

import (
	"fmt"
	"net"
)

const (
	// DefaultBridge is the bridge name xl uses when a vif names none.
	DefaultBridge  = "xenbr0"
	DefaultAddress = "172.16.0.1/24"
)

// Config describes the host side of a guest's network. An empty Bridge
// disables networking for the domain.
type Config struct {
	Bridge  string `yaml:"bridge"`
	Address string `yaml:"address"`
	NAT     bool   `yaml:"nat"`
}

func (c Config) Enabled() bool {
	return c.Bridge != ""
}

// Validate checks the bridge name length and the CIDR address.
func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	// IFNAMSIZ minus the terminating NUL
	if len(c.Bridge) > 15 {
		return fmt.Errorf("%w: bridge name %q longer than 15 bytes", ErrInvalidConfig, c.Bridge)
	}
	if c.Address == "" {
		return nil
	}
	if _, _, err := net.ParseCIDR(c.Address); err != nil {
		return fmt.Errorf("%w: address %q: %w", ErrInvalidConfig, c.Address, err)
	}
	return nil
}

// Subnet returns the network of the bridge address, used as the NAT source.
func (c Config) Subnet() (string, error) {
	address := c.Address
	if address == "" {
		address = DefaultAddress
	}
	_, subnet, err := net.ParseCIDR(address)
	if err != nil {
		return "", fmt.Errorf("%w: address %q: %w", ErrInvalidConfig, address, err)
	}
	return subnet.String(), nil
}
