package books

import (
	"net/netip"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// EndpointPolicy says which service endpoints are acceptable. HTTPS to a public host
// is always accepted.
type EndpointPolicy struct {
	AllowHTTP  bool
	AllowLocal bool
}

// ValidateEndpoint checks a configured service URL against p. IP literals are checked
// without resolving names.
func ValidateEndpoint(rawURL string, p EndpointPolicy) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrapf(err, "invalid endpoint %q", rawURL)
	}

	switch u.Scheme {
	case "https":
	case "http":
		if !p.AllowHTTP {
			return errors.Errorf("endpoint %q: plain http is not allowed", rawURL)
		}
	default:
		return errors.Errorf("endpoint %q: unsupported scheme %q", rawURL, u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return errors.Errorf("endpoint %q has no host", rawURL)
	}
	if p.AllowLocal {
		return nil
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") {
		return errors.Errorf("endpoint %q: local host %q is not allowed", rawURL, host)
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return nil
	}
	if addr.Zone() != "" {
		return errors.Errorf("endpoint %q: zoned address is not allowed", rawURL)
	}
	addr = addr.Unmap()
	switch {
	case addr.IsUnspecified(), addr.IsMulticast():
		return errors.Errorf("endpoint %q: address %s is not allowed", rawURL, addr)
	case addr.IsLoopback(), addr.IsPrivate(), addr.IsLinkLocalUnicast():
		return errors.Errorf("endpoint %q: local network address %s is not allowed", rawURL, addr)
	}
	return nil
}
