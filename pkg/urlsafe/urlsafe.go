// Package urlsafe classifies URLs and resolved hostnames for SSRF risk.
// Every outbound fetch in this module — replay and OAuth token refresh —
// passes through here before a socket is opened.
package urlsafe

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
)

// Result is the outcome of a safety check.
type Result struct {
	Safe   bool
	Reason string
}

// ResolveResult extends Result with DNS resolution detail. ResolvedURL is
// diagnostic only — callers must fetch using the original hostname so TLS
// SNI and virtual hosting keep working.
type ResolveResult struct {
	Result
	OriginalHost string
	ResolvedIP   string
	ResolvedURL  string
}

// MaxRedirectHops is the hard cap enforced by replay,
// regardless of how many of those hops are individually judged safe.
const MaxRedirectHops = 1

// Resolver resolves a hostname to IP addresses. net.DefaultResolver
// satisfies this; tests substitute a fake.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

var defaultResolver Resolver = net.DefaultResolver

// skipCheckEnabled reports whether the test-only SSRF bypass is active.
// It exists so integration tests can point replay and refresh at a local
// httptest server without every check rejecting loopback addresses; it
// must never be set outside of test harnesses.
func skipCheckEnabled() bool {
	return os.Getenv("APITAP_SKIP_SSRF_CHECK") == "1"
}

// Validate classifies a URL string without doing any network I/O.
func Validate(rawURL string) Result {
	if skipCheckEnabled() {
		return Result{Safe: true}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return Result{Safe: false, Reason: fmt.Sprintf("unparseable url: %v", err)}
	}
	return validateParsed(u)
}

func validateParsed(u *url.URL) Result {
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return Result{Safe: false, Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}

	host := u.Hostname()
	if host == "" {
		return Result{Safe: false, Reason: "missing host"}
	}

	if reason, unsafe := classifyHost(host); unsafe {
		return Result{Safe: false, Reason: reason}
	}

	return Result{Safe: true}
}

// classifyHost applies the static hostname/IP-literal rules from spec §4.1.
// It does not resolve names — that is ResolveAndValidate's job.
func classifyHost(host string) (reason string, unsafe bool) {
	lower := strings.ToLower(host)
	lower = strings.TrimSuffix(strings.TrimPrefix(lower, "["), "]")

	if lower == "localhost" {
		return "host is localhost", true
	}
	if strings.HasSuffix(lower, ".local") || strings.HasSuffix(lower, ".internal") {
		return fmt.Sprintf("host %q is in a reserved local domain", host), true
	}

	if ip := net.ParseIP(lower); ip != nil {
		return classifyIP(ip)
	}

	return "", false
}

// classifyIP applies the private/loopback/link-local range checks from
// spec §4.1 to a concrete IP address.
func classifyIP(ip net.IP) (reason string, unsafe bool) {
	if ip4 := ip.To4(); ip4 != nil {
		switch {
		case ip4[0] == 127:
			return "IPv4 loopback (127/8)", true
		case ip4[0] == 10:
			return "IPv4 private range (10/8)", true
		case ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31:
			return "IPv4 private range (172.16/12)", true
		case ip4[0] == 192 && ip4[1] == 168:
			return "IPv4 private range (192.168/16)", true
		case ip4[0] == 169 && ip4[1] == 254:
			return "IPv4 link-local (169.254/16)", true
		case ip4[0] == 0:
			return "IPv4 this-network (0/8)", true
		}
		return "", false
	}

	if ip.Equal(net.IPv6loopback) {
		return "IPv6 loopback (::1)", true
	}
	if v4 := ip.To4(); v4 == nil && ip.IsLoopback() {
		return "IPv6 loopback", true
	}
	if isUniqueLocal(ip) {
		return "IPv6 unique-local (fc00::/7)", true
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return "IPv6 link-local (fe80::/10)", true
	}

	return "", false
}

// isUniqueLocal reports whether ip falls in fc00::/7.
func isUniqueLocal(ip net.IP) bool {
	ip16 := ip.To16()
	if ip16 == nil {
		return false
	}
	return ip16[0]&0xfe == 0xfc
}

// ResolveAndValidate validates the URL, then resolves its host via DNS and
// re-runs the classifier on the resolved address. This closes the TOCTOU
// hole where a public hostname resolves to a private range. No fetch may
// proceed unless this returns Safe == true.
func ResolveAndValidate(ctx context.Context, rawURL string) ResolveResult {
	return resolveAndValidate(ctx, rawURL, defaultResolver)
}

func resolveAndValidate(ctx context.Context, rawURL string, resolver Resolver) ResolveResult {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ResolveResult{Result: Result{Safe: false, Reason: fmt.Sprintf("unparseable url: %v", err)}}
	}

	if skipCheckEnabled() {
		return ResolveResult{Result: Result{Safe: true}, OriginalHost: u.Hostname(), ResolvedURL: rawURL}
	}

	static := validateParsed(u)
	host := u.Hostname()
	out := ResolveResult{OriginalHost: host}
	if !static.Safe {
		out.Result = static
		return out
	}

	// A literal IP host was already fully classified above; still resolve
	// it (trivially) so ResolvedIP/ResolvedURL are populated consistently.
	addrs, err := resolver.LookupHost(ctx, host)
	if err != nil || len(addrs) == 0 {
		out.Result = Result{Safe: false, Reason: fmt.Sprintf("dns resolution failed: %v", err)}
		return out
	}

	resolvedIP := addrs[0]
	out.ResolvedIP = resolvedIP
	out.ResolvedURL = rebuildWithHost(u, resolvedIP)

	ip := net.ParseIP(resolvedIP)
	if ip == nil {
		out.Result = Result{Safe: false, Reason: "resolved address is not a valid IP"}
		return out
	}
	if reason, unsafe := classifyIP(ip); unsafe {
		out.Result = Result{Safe: false, Reason: fmt.Sprintf("resolved address %s is unsafe: %s", resolvedIP, reason)}
		return out
	}

	out.Result = Result{Safe: true}
	return out
}

func rebuildWithHost(u *url.URL, host string) string {
	c := *u
	if port := c.Port(); port != "" {
		c.Host = net.JoinHostPort(host, port)
	} else {
		c.Host = host
	}
	return c.String()
}

// ValidateRedirect applies the same safety check to a redirect Location
// header value before it is followed. Hop-count enforcement is the
// caller's responsibility (see MaxRedirectHops).
func ValidateRedirect(ctx context.Context, targetURL string) ResolveResult {
	return ResolveAndValidate(ctx, targetURL)
}
