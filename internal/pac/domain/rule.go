package domain

import (
	"fmt"
	"strings"
)

// RuleKind classifies a single block-list line.
//
// comment   - "!" lines, never contribute anything
// cosmetic  - "[" lines (element hiding, list headers like "[AutoProxy 0.2.9]")
// whitelist - "@" lines ("@@||example.com"), exceptions honored only by the precise matcher
// anchored  - lines that carried a "||", "|" or "." anchor
// plain     - anything else
type RuleKind uint8

const (
	RulePlain RuleKind = iota
	RuleComment
	RuleCosmetic
	RuleWhitelist
	RuleAnchored
)

// String returns a stable string representation of the rule kind.
func (k RuleKind) String() string {
	switch k {
	case RulePlain:
		return "plain"
	case RuleComment:
		return "comment"
	case RuleCosmetic:
		return "cosmetic"
	case RuleWhitelist:
		return "whitelist"
	case RuleAnchored:
		return "anchored"
	default:
		return fmt.Sprintf("RuleKind(%d)", k)
	}
}

// Anchor is the leading marker stripped from a rule.
type Anchor uint8

const (
	AnchorNone   Anchor = iota
	AnchorDomain        // "||"
	AnchorExact         // "|"
	AnchorDot           // "."
)

// String returns the marker text for the anchor.
func (a Anchor) String() string {
	switch a {
	case AnchorNone:
		return ""
	case AnchorDomain:
		return "||"
	case AnchorExact:
		return "|"
	case AnchorDot:
		return "."
	default:
		return fmt.Sprintf("Anchor(%d)", a)
	}
}

// Rule is one classified block-list line.
type Rule struct {
	Raw    string   // line as read
	Kind   RuleKind // classification after anchor stripping
	Anchor Anchor   // marker that was stripped, if any
	Body   string   // line with the anchor removed
}

// ContributesHostname reports whether the rule can yield a proxied hostname.
func (r Rule) ContributesHostname() bool {
	return r.Kind == RuleAnchored || r.Kind == RulePlain
}

// anchorMarkers is the ordered set of leading markers; the first match wins
// and every repetition of its character is removed.
var anchorMarkers = []struct {
	prefix string
	cut    string
	anchor Anchor
}{
	{"||", "|", AnchorDomain},
	{"|", "|", AnchorExact},
	{".", ".", AnchorDot},
}

// kindMarkers is checked against the body once the anchor is gone.
var kindMarkers = []struct {
	prefix string
	kind   RuleKind
}{
	{"!", RuleComment},
	{"[", RuleCosmetic},
	{"@", RuleWhitelist},
}

// ParseRule classifies line. It never fails: anything not matched by a marker
// is a plain rule.
func ParseRule(line string) Rule {
	r := Rule{Raw: line, Body: line}

	for _, m := range anchorMarkers {
		if strings.HasPrefix(r.Body, m.prefix) {
			r.Anchor = m.anchor
			r.Body = strings.TrimLeft(r.Body, m.cut)
			break
		}
	}

	for _, m := range kindMarkers {
		if strings.HasPrefix(r.Body, m.prefix) {
			r.Kind = m.kind
			return r
		}
	}

	if r.Anchor != AnchorNone {
		r.Kind = RuleAnchored
	} else {
		r.Kind = RulePlain
	}
	return r
}

// IsMatcherRule reports whether a raw line is kept for the precise matcher:
// empty, comment and cosmetic lines are dropped, exceptions are kept.
func IsMatcherRule(line string) bool {
	if line == "" {
		return false
	}
	return !strings.HasPrefix(line, "!") && !strings.HasPrefix(line, "[")
}
