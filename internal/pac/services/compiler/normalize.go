package compiler

import (
	"net/url"
	"strings"

	"github.com/miekg/dns"

	"github.com/haukened/pac-server/internal/pac/common/log"
	"github.com/haukened/pac-server/internal/pac/domain"
)

// HostnameOf extracts the hostname a rule line refers to. ok is false for
// lines that never yield one: wildcard-dot patterns, comments, cosmetic and
// exception rules, and anything that does not parse as a URL host.
func HostnameOf(line string) (host string, ok bool) {
	if strings.Contains(line, ".*") {
		return "", false
	}
	line = strings.ReplaceAll(line, "*", "/")

	rule := domain.ParseRule(line)
	if !rule.ContributesHostname() {
		return "", false
	}
	return hostFromURLish(rule.Body)
}

// hostFromURLish parses s as a URL, adding an http scheme when s has none.
func hostFromURLish(s string) (string, bool) {
	if !strings.HasPrefix(s, "http:") && !strings.HasPrefix(s, "https:") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", false
	}
	if _, ok := dns.IsDomainName(host); !ok {
		return "", false
	}
	return host, true
}

// ExtractHostnames runs every line through HostnameOf and returns the distinct
// hostnames in first-seen order. Lines without a hostname are skipped.
func ExtractHostnames(lines []string, logger log.Logger) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	skipped := 0
	for i, line := range lines {
		host, ok := HostnameOf(line)
		if !ok {
			if line != "" {
				skipped++
				logger.Debug(map[string]any{"line": i + 1, "raw": line}, "normalize_skip")
			}
			continue
		}
		if _, dup := seen[host]; dup {
			continue
		}
		seen[host] = struct{}{}
		out = append(out, host)
	}
	logger.Debug(map[string]any{"lines": len(lines), "hostnames": len(out), "skipped": skipped}, "normalize_done")
	return out
}
