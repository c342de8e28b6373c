package source

import (
	"context"
	"encoding/base64"
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/pac-server/internal/pac/common/log"
)

func TestIsRemote(t *testing.T) {
	tests := []struct {
		ref  string
		want bool
	}{
		{"https://github.com/gfwlist/gfwlist/raw/master/gfwlist.txt", true},
		{"http://127.0.0.1:8080/list", true},
		{"/etc/pac-server/gfwlist.txt", false},
		{"gfwlist.txt", false},
		{"file:///tmp/gfwlist.txt", false}, // no network location
		{"C:\\lists\\gfwlist.txt", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRemote(tt.ref), "IsRemote(%q)", tt.ref)
	}
}

func TestDecodeBase64(t *testing.T) {
	plain := "[AutoProxy 0.2.9]\n||example.com\n"
	encoded := base64.StdEncoding.EncodeToString([]byte(plain))

	// wrapped at 64 columns the way gfwlist.txt is published
	var wrapped string
	for i := 0; i < len(encoded); i += 64 {
		end := min(i+64, len(encoded))
		wrapped += encoded[i:end] + "\n"
	}

	assert.Equal(t, plain, DecodeBase64(encoded, log.NewNoopLogger()))
	assert.Equal(t, plain, DecodeBase64(wrapped, log.NewNoopLogger()))
	// contains a dot: already plain
	assert.Equal(t, plain, DecodeBase64(plain, log.NewNoopLogger()))
	// not valid base64, no dot: returned as-is
	assert.Equal(t, "!!not base64!!", DecodeBase64("!!not base64!!", log.NewNoopLogger()))
	assert.Equal(t, "abc", DecodeBase64("abc", nil))
}

func TestSplitLines(t *testing.T) {
	assert.Nil(t, SplitLines(""))
	assert.Equal(t, []string{"a", "b"}, SplitLines("a\r\nb\r\n"))
	assert.Equal(t, []string{"a", "", "b"}, SplitLines("\uFEFFa\n\nb"))
}

func TestBuiltin(t *testing.T) {
	rules := Builtin()
	require.NotEmpty(t, rules)
	assert.Contains(t, rules, "||github.com")
}

func TestLoader_LoadLocal(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "list.txt")
	require.NoError(t, os.WriteFile(p, []byte("||example.com\n||example.org\n"), 0o644))

	l := NewLoader(Options{})
	lines, err := l.LoadRules(context.Background(), p, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"||example.com", "||example.org"}, lines)

	_, err = l.Load(context.Background(), filepath.Join(dir, "missing.txt"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestLoader_LoadRemote(t *testing.T) {
	body := base64.StdEncoding.EncodeToString([]byte("||example.com\n@@||direct.example.com\n"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/gfwlist.txt":
			_, _ = w.Write([]byte(body))
		case "/empty":
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	l := NewLoader(Options{Logger: log.NewNoopLogger()})

	lines, err := l.LoadRules(context.Background(), srv.URL+"/gfwlist.txt", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"||example.com", "@@||direct.example.com"}, lines)

	// user rules are never base64-probed
	raw, err := l.LoadRules(context.Background(), srv.URL+"/gfwlist.txt", false)
	require.NoError(t, err)
	assert.Equal(t, []string{body}, raw)

	_, err = l.Load(context.Background(), srv.URL+"/missing")
	assert.ErrorContains(t, err, "unexpected status")

	_, err = l.Load(context.Background(), srv.URL+"/empty")
	assert.ErrorIs(t, err, ErrEmptySource)
}

func TestLoader_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	l := NewLoader(Options{Timeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := l.Load(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
