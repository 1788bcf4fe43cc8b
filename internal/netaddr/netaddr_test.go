package netaddr

import (
	"errors"
	"net"
	"testing"
)

func TestFirstIPv4(t *testing.T) {
	ipnet := func(s string) net.Addr { return &net.IPNet{IP: net.ParseIP(s), Mask: net.CIDRMask(24, 32)} }

	tests := []struct {
		name  string
		addrs []net.Addr
		want  string
	}{
		{"empty", nil, ""},
		{"loopback_only", []net.Addr{ipnet("127.0.0.1")}, ""},
		{"ipv6_only", []net.Addr{ipnet("fe80::1"), ipnet("::1")}, ""},
		{"skips_loopback_and_v6", []net.Addr{ipnet("127.0.0.1"), ipnet("fe80::1"), ipnet("192.168.1.10")}, "192.168.1.10"},
		{"first_wins", []net.Addr{ipnet("10.0.0.2"), ipnet("192.168.1.10")}, "10.0.0.2"},
		{"ipaddr", []net.Addr{&net.IPAddr{IP: net.ParseIP("172.16.0.4")}}, "172.16.0.4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FirstIPv4(tt.addrs); got != tt.want {
				t.Errorf("FirstIPv4 = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInternalIPv4(t *testing.T) {
	ip, err := InternalIPv4()
	if errors.Is(err, ErrNoAddress) {
		t.Skip("no non-loopback IPv4 interface on this host")
	}
	if err != nil {
		t.Fatalf("InternalIPv4: %v", err)
	}
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.To4() == nil || parsed.IsLoopback() {
		t.Errorf("InternalIPv4 = %q", ip)
	}
}
