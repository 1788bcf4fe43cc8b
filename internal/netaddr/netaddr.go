// Package netaddr finds the address receivers should use to reach this host.
package netaddr

import (
	"errors"
	"fmt"
	"net"
)

// ErrNoAddress is returned when no interface has a non-loopback IPv4 address.
var ErrNoAddress = errors.New("no internal IPv4 address found")

// InternalIPv4 returns the first non-loopback IPv4 address of an interface
// that is up.
func InternalIPv4() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("list interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		if ip := FirstIPv4(addrs); ip != "" {
			return ip, nil
		}
	}
	return "", ErrNoAddress
}

// FirstIPv4 returns the first non-loopback IPv4 address in addrs, or "".
func FirstIPv4(addrs []net.Addr) string {
	for _, addr := range addrs {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip4 := ip.To4(); ip4 != nil && !ip4.IsLoopback() {
			return ip4.String()
		}
	}
	return ""
}
