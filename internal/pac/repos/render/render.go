// Package render turns compiled rule data into PAC script text.
package render

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/haukened/pac-server/internal/pac/domain"
)

// Template placeholders.
const (
	placeholderProxy   = "__PROXY__"
	placeholderDomains = "__DOMAINS__"
	placeholderRules   = "__RULES__"
)

var (
	//go:embed templates/proxy.pac
	fastTemplate string

	//go:embed templates/abp.js
	preciseTemplate string
)

// ErrEmptyProxy is returned when the proxy directive is blank.
var ErrEmptyProxy = errors.New("proxy directive must not be empty")

// RenderFast renders the domain-set PAC script. Every domain maps to 1 and the
// script returns proxy when the requested host or one of its parents is a key.
func RenderFast(domains domain.DomainSet, proxy string) ([]byte, error) {
	proxyJSON, err := encodeProxy(proxy)
	if err != nil {
		return nil, err
	}

	mapping := make(map[string]int, domains.Len())
	for name := range domains {
		mapping[name] = 1
	}
	domainsJSON, err := encodeJSON(mapping)
	if err != nil {
		return nil, fmt.Errorf("encoding domains: %w", err)
	}

	return substitute(fastTemplate, placeholderProxy, proxyJSON, placeholderDomains, domainsJSON), nil
}

// RenderPrecise renders the pattern-matching PAC script from the ordered rule
// list. Comment and cosmetic lines are dropped; exception rules are kept so the
// script can honor them.
func RenderPrecise(rules []string, proxy string) ([]byte, error) {
	proxyJSON, err := encodeProxy(proxy)
	if err != nil {
		return nil, err
	}

	kept := MatcherRules(rules)
	rulesJSON, err := encodeJSON(kept)
	if err != nil {
		return nil, fmt.Errorf("encoding rules: %w", err)
	}

	return substitute(preciseTemplate, placeholderProxy, proxyJSON, placeholderRules, rulesJSON), nil
}

// MatcherRules returns the subset of rules embedded by RenderPrecise, in order.
func MatcherRules(rules []string) []string {
	kept := make([]string, 0, len(rules))
	for _, r := range rules {
		if domain.IsMatcherRule(r) {
			kept = append(kept, r)
		}
	}
	return kept
}

func encodeProxy(proxy string) (string, error) {
	if strings.TrimSpace(proxy) == "" {
		return "", ErrEmptyProxy
	}
	s, err := encodeJSON(proxy)
	if err != nil {
		return "", fmt.Errorf("encoding proxy: %w", err)
	}
	return s, nil
}

// encodeJSON produces two-space indented JSON. Map keys come out sorted, which
// keeps the rendered script byte-identical for identical input.
func encodeJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// substitute replaces placeholders in a single pass, so substituted values are
// never scanned for further placeholders.
func substitute(tmpl string, oldnew ...string) []byte {
	return []byte(strings.NewReplacer(oldnew...).Replace(tmpl))
}
