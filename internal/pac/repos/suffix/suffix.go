// Package suffix provides the public-suffix tables used to reduce hostnames
// to registrable domains.
package suffix

import (
	"bufio"
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/net/publicsuffix"

	"github.com/haukened/pac-server/internal/pac/common/utils"
)

// Table answers membership questions about public suffixes such as "com" or "co.uk".
type Table interface {
	Contains(suffix string) bool
}

// Source names accepted by Open besides a file path.
const (
	SourceEmbedded     = "embedded"
	SourcePublicSuffix = "publicsuffix"
)

//go:embed tld.txt
var embeddedTLDs []byte

// SetTable is an immutable Table backed by a set.
type SetTable struct {
	set map[string]struct{}
}

// Contains reports whether suffix is listed.
func (t *SetTable) Contains(suffix string) bool {
	_, ok := t.set[suffix]
	return ok
}

// Len returns the number of listed suffixes.
func (t *SetTable) Len() int { return len(t.set) }

// Parse reads a newline-separated suffix list. Blank lines and lines starting
// with "//" or "#" are skipped; a leading "*." is dropped and "!" exception
// lines are ignored.
func Parse(r io.Reader) (*SetTable, error) {
	set := make(map[string]struct{}, 8192)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "//") || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		if i := strings.IndexAny(line, " \t"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimPrefix(line, "*.")
		line = utils.CanonicalHost(line)
		if line == "" {
			continue
		}
		set[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading suffix list: %w", err)
	}
	return &SetTable{set: set}, nil
}

var embedded = sync.OnceValue(func() *SetTable {
	t, err := Parse(bytes.NewReader(embeddedTLDs))
	if err != nil {
		// the embedded resource is fixed at build time
		panic(fmt.Sprintf("parsing embedded suffix list: %v", err))
	}
	return t
})

// Embedded returns the table bundled with the binary. It is parsed once.
func Embedded() *SetTable {
	return embedded()
}

// PublicSuffixTable answers from the ICANN section of the list compiled into
// golang.org/x/net/publicsuffix.
type PublicSuffixTable struct{}

// Contains reports whether suffix is itself an ICANN public suffix.
func (PublicSuffixTable) Contains(suffix string) bool {
	if suffix == "" {
		return false
	}
	ps, icann := publicsuffix.PublicSuffix(suffix)
	return icann && ps == suffix
}

// Open resolves a configured table source: "embedded", "publicsuffix" or a
// path to a suffix list file.
func Open(source string) (Table, error) {
	switch source {
	case "", SourceEmbedded:
		return Embedded(), nil
	case SourcePublicSuffix:
		return PublicSuffixTable{}, nil
	}

	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("opening suffix list: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Parse(f)
}

var (
	_ Table = (*SetTable)(nil)
	_ Table = PublicSuffixTable{}
)
