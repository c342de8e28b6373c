package utils

import "strings"

// CanonicalHost lowercases name and strips surrounding space and any
// trailing dots, the form hosts are stored and looked up in.
func CanonicalHost(name string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(name)), ".")
}

// ParentDomains returns the names a PAC lookup tests for host, most specific
// first: the host itself followed by every parent that still has at least two
// labels. "a.b.example.com" yields [a.b.example.com b.example.com example.com].
// A single-label host yields only itself.
func ParentDomains(host string) []string {
	host = CanonicalHost(host)
	if host == "" {
		return nil
	}
	out := []string{host}
	rest := host
	for {
		i := strings.IndexByte(rest, '.')
		if i < 0 {
			break
		}
		rest = rest[i+1:]
		if strings.IndexByte(rest, '.') < 0 {
			break
		}
		out = append(out, rest)
	}
	return out
}
