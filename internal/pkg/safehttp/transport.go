// Package safehttp builds HTTP transports that refuse to reach internal
// addresses, for fetching from source URLs taken from configuration.
package safehttp

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"syscall"
	"time"
)

// ErrDenied is returned when a dial targets a blocked address.
var ErrDenied = errors.New("destination address denied")

const defaultDialTimeout = 5 * time.Second

// Policy decides which resolved addresses a transport may connect to.
type Policy struct {
	// Allow lists networks that stay reachable even though they are private,
	// e.g. an on-premises source API.
	Allow []netip.Prefix

	// DialTimeout bounds each connection attempt. Zero means 5s.
	DialTimeout time.Duration
}

// ParsePrefixes parses CIDR strings such as "10.20.0.0/16".
func ParsePrefixes(cidrs []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, fmt.Errorf("invalid network %q: %w", c, err)
		}
		prefixes = append(prefixes, p.Masked())
	}
	return prefixes, nil
}

// Permits reports whether addr may be dialed.
func (p Policy) Permits(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, prefix := range p.Allow {
		if prefix.Contains(addr) {
			return true
		}
	}
	return !(addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsMulticast() ||
		addr.IsUnspecified())
}

// NewTransport returns a transport that checks every resolved address
// against p before connecting. Proxies are disabled since they would hide
// the real destination.
func NewTransport(p Policy) *http.Transport {
	timeout := p.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}

	dialer := &net.Dialer{
		Timeout: timeout,
		Control: func(network, address string, _ syscall.RawConn) error {
			ap, err := netip.ParseAddrPort(address)
			if err != nil {
				return fmt.Errorf("%w: unparseable address %q", ErrDenied, address)
			}
			if !p.Permits(ap.Addr()) {
				return fmt.Errorf("%w: %s", ErrDenied, ap.Addr())
			}
			return nil
		},
	}

	t := http.DefaultTransport.(*http.Transport).Clone()
	t.Proxy = nil
	t.DialContext = dialer.DialContext
	return t
}

// SafeTransport denies every private, loopback and link-local address.
var SafeTransport = NewTransport(Policy{})
