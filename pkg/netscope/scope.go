// Package netscope classifies IP addresses and socket bind addresses into
// LOCAL (loopback), LAN (private, link-local, CGNAT, ULA) and GLOBAL.
package netscope

import (
	"net/netip"
	"strings"

	"github.com/vigil-sh/vigil/pkg/domain"
)

// Scope is the locality class of an address.
type Scope string

const (
	Local  Scope = "LOCAL"
	LAN    Scope = "LAN"
	Global Scope = "GLOBAL"
)

var lanPrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("100.64.0.0/10"),  // CGNAT
	netip.MustParsePrefix("169.254.0.0/16"), // link-local
	netip.MustParsePrefix("fc00::/7"),       // IPv6 ULA
	netip.MustParsePrefix("fe80::/10"),      // IPv6 link-local
}

// Classify maps a source address to its scope. Unparseable addresses are
// treated as LAN rather than raising alarms for garbage input.
func Classify(addr string) Scope {
	ip, err := netip.ParseAddr(strings.TrimSpace(addr))
	if err != nil {
		return LAN
	}
	if ip.IsLoopback() {
		return Local
	}
	for _, p := range lanPrefixes {
		if p.Contains(ip.Unmap()) {
			return LAN
		}
	}
	if ip.IsPrivate() {
		return LAN
	}
	return Global
}

// ClassifyBind maps a listening socket's bound host to its scope. Wildcard
// binds are GLOBAL.
func ClassifyBind(host string) Scope {
	h := strings.ToLower(strings.TrimSpace(host))
	switch h {
	case "127.0.0.1", "::1", "localhost":
		return Local
	case "*", "0.0.0.0", "::":
		return Global
	}
	return Classify(h)
}

// Adjust downgrades a severity for non-global sources: one step for LAN,
// collapsed to INFO for loopback.
func Adjust(sev domain.Severity, scope Scope) domain.Severity {
	switch scope {
	case Local:
		return domain.SeverityInfo
	case LAN:
		return sev.Downgrade()
	default:
		return sev
	}
}
