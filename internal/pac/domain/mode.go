package domain

import (
	"fmt"
	"strings"
)

// Mode selects the PAC rendering strategy.
type Mode uint8

const (
	// ModeFast renders a registrable-domain set with O(1) lookups.
	ModeFast Mode = iota
	// ModePrecise renders the full rule list for pattern matching.
	ModePrecise
)

// String returns a stable string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeFast:
		return "fast"
	case ModePrecise:
		return "precise"
	default:
		return fmt.Sprintf("Mode(%d)", m)
	}
}

// ModeOf maps the precise flag onto a Mode.
func ModeOf(precise bool) Mode {
	if precise {
		return ModePrecise
	}
	return ModeFast
}

// ParseMode converts "fast" or "precise" (case-insensitive) into a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fast":
		return ModeFast, nil
	case "precise":
		return ModePrecise, nil
	default:
		return 0, fmt.Errorf("unsupported mode: %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	switch m {
	case ModeFast, ModePrecise:
		return []byte(m.String()), nil
	default:
		return nil, fmt.Errorf("unsupported mode: %d", m)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
