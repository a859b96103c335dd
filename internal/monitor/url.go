package monitor

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"
)

var cgnatPrefix = netip.MustParsePrefix("100.64.0.0/10")
var thisNetworkPrefix = netip.MustParsePrefix("0.0.0.0/8")

// ValidateAuditURL checks that raw is a public http(s) URL the audit API can
// reach and returns its normalized form. A missing scheme defaults to https
// and a single trailing slash is dropped.
func ValidateAuditURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: please enter a URL", ErrInvalidURL)
	}

	withScheme := trimmed
	lower := strings.ToLower(trimmed)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
	case strings.Contains(trimmed, "://"):
		return "", fmt.Errorf("%w: URL must use http or https", ErrInvalidURL)
	default:
		withScheme = "https://" + trimmed
	}

	u, err := url.Parse(withScheme)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: please enter a valid URL (e.g. https://yoursite.com)", ErrInvalidURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: URL must use http or https", ErrInvalidURL)
	}

	host := strings.ToLower(u.Hostname())
	if isPrivateHost(host) {
		return "", fmt.Errorf("%w: cannot audit local or private network URLs", ErrInvalidURL)
	}
	if !strings.Contains(host, ".") {
		return "", fmt.Errorf("%w: please enter a full domain (e.g. yoursite.com)", ErrInvalidURL)
	}

	return strings.TrimSuffix(withScheme, "/"), nil
}

func isPrivateHost(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsUnspecified() ||
		thisNetworkPrefix.Contains(addr) ||
		cgnatPrefix.Contains(addr)
}

// ProjectNameFromURL derives a display name from a validated URL: the host
// without a leading "www.".
func ProjectNameFromURL(normalized string) string {
	u, err := url.Parse(normalized)
	if err != nil || u.Hostname() == "" {
		return normalized
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
