package network

import (
	"crypto/sha256"
	"net"
)

// xenOUI is the organizationally unique identifier assigned to Xen.
var xenOUI = [3]byte{0x00, 0x16, 0x3e}

// MACAddress derives a stable vif MAC from the domain name. The same name
// always gets the same address, so a rebooted guest keeps its DHCP lease.
func MACAddress(domainName string) net.HardwareAddr {
	sum := sha256.Sum256([]byte(domainName))
	// the OUI owner reserves the upper half of the fourth octet
	return net.HardwareAddr{xenOUI[0], xenOUI[1], xenOUI[2], sum[0] & 0x7f, sum[1], sum[2]}
}
