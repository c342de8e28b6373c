// Package source obtains raw block-list text from local files or remote URLs.
package source

import (
	"context"
	_ "embed"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/haukened/pac-server/internal/pac/common/log"
)

const (
	// DefaultTimeout bounds a single remote fetch.
	DefaultTimeout = 10 * time.Second

	// maxSourceSize caps the body read from a remote list.
	maxSourceSize = 32 << 20
)

//go:embed builtin.txt
var builtinRules []byte

// ErrEmptySource is returned when a reference yields no content at all.
var ErrEmptySource = errors.New("source is empty")

// Loader reads rule sources. The zero value is not usable; use NewLoader.
type Loader struct {
	client *http.Client
	logger log.Logger
}

// Options configures a Loader.
type Options struct {
	// Timeout applies to remote fetches. Zero selects DefaultTimeout.
	Timeout time.Duration
	// Client overrides the HTTP client; its Timeout is left untouched.
	Client *http.Client
	Logger log.Logger
}

// NewLoader constructs a Loader.
func NewLoader(opts Options) *Loader {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Loader{client: client, logger: logger}
}

// IsRemote reports whether ref names a URL (it has both a scheme and a host).
// Everything else is treated as a local file path.
func IsRemote(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

// Load returns the text behind ref.
func (l *Loader) Load(ctx context.Context, ref string) (string, error) {
	if IsRemote(ref) {
		l.logger.Info(map[string]any{"source": ref}, "source_download")
		return l.fetch(ctx, ref)
	}

	l.logger.Info(map[string]any{"source": ref}, "source_read")
	b, err := os.ReadFile(ref)
	if err != nil {
		return "", fmt.Errorf("reading %q: %w", ref, err)
	}
	return string(b), nil
}

// LoadRules loads ref, optionally probes it for base64 and splits it into lines.
func (l *Loader) LoadRules(ctx context.Context, ref string, maybeBase64 bool) ([]string, error) {
	content, err := l.Load(ctx, ref)
	if err != nil {
		return nil, err
	}
	if maybeBase64 {
		content = DecodeBase64(content, l.logger)
	}
	return SplitLines(content), nil
}

func (l *Loader) fetch(ctx context.Context, ref string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return "", fmt.Errorf("create request for %q: %w", ref, err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting %q: %w", ref, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("requesting %q: unexpected status: %s", ref, resp.Status)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceSize))
	if err != nil {
		return "", fmt.Errorf("reading body of %q: %w", ref, err)
	}
	if len(b) == 0 {
		return "", fmt.Errorf("requesting %q: %w", ref, ErrEmptySource)
	}

	l.logger.Debug(map[string]any{
		"source":         ref,
		"bytes":          len(b),
		"content_length": resp.ContentLength,
	}, "source_downloaded")
	return string(b), nil
}

// DecodeBase64 returns the decoded list when content looks base64-encoded.
// Content containing a "." is taken as plain text already, since the standard
// base64 alphabet has no dot. A failed decode is logged and the content is
// returned unchanged.
func DecodeBase64(content string, logger log.Logger) string {
	if strings.Contains(content, ".") {
		return content
	}

	compact := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, content)

	b, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		if logger != nil {
			logger.Warn(map[string]any{"error": err}, "source_base64_decode_failed")
		}
		return content
	}
	return string(b)
}

// SplitLines splits text into lines, dropping line terminators and a leading BOM.
// A trailing newline does not produce an extra empty line.
func SplitLines(content string) []string {
	content = strings.TrimPrefix(content, "\uFEFF")
	if content == "" {
		return nil
	}
	content = strings.TrimSuffix(content, "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

// Builtin returns the bundled rules appended to every list when enabled.
func Builtin() []string {
	return SplitLines(string(builtinRules))
}
