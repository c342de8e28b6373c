package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/pac-server/internal/pac/common/log"
	"github.com/haukened/pac-server/internal/pac/domain"
	"github.com/haukened/pac-server/internal/pac/infra/metrics"
	"github.com/haukened/pac-server/internal/pac/repos/artifact"
	"github.com/haukened/pac-server/internal/pac/repos/matcher"
	"github.com/haukened/pac-server/internal/pac/repos/matcher/bloom"
	"github.com/haukened/pac-server/internal/pac/repos/matcher/lru"
	"github.com/haukened/pac-server/internal/pac/repos/snapshot/bolt"
	"github.com/haukened/pac-server/internal/pac/services/refresher"
)

type fakeRefresher struct {
	mode     domain.Mode
	latest   *domain.Snapshot
	snap     domain.Snapshot
	err      error
	triggers int
}

func (f *fakeRefresher) Trigger(context.Context) (domain.Snapshot, error) {
	f.triggers++
	return f.snap, f.err
}

func (f *fakeRefresher) Latest() (domain.Snapshot, bool) {
	if f.latest == nil {
		return domain.Snapshot{}, false
	}
	return *f.latest, true
}

func (f *fakeRefresher) Mode() domain.Mode { return f.mode }
func (f *fakeRefresher) Artifact() string  { return "pac" }

type testEnv struct {
	srv     *Server
	ts      *httptest.Server
	dir     *artifact.Dir
	ref     *fakeRefresher
	index   *matcher.Index
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir, err := artifact.NewDir(t.TempDir())
	require.NoError(t, err)
	cache, err := lru.New(8)
	require.NoError(t, err)
	index := matcher.NewIndex(cache, bloom.NewFactory(), 0.01)
	m := metrics.New()

	env := &testEnv{dir: dir, ref: &fakeRefresher{mode: domain.ModeFast}, index: index, metrics: m}
	env.srv = NewServer(Options{
		Artifacts: dir,
		Refresher: env.ref,
		Checker:   index,
		Metrics:   m,
		Gatherer:  m.Registry,
		Logger:    log.NewNoopLogger(),
	})
	env.ts = httptest.NewServer(env.srv.Handler())
	t.Cleanup(env.ts.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, e.ts.URL+path, nil)
	require.NoError(t, err)
	resp, err := e.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestServeFile(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.dir.Write("pac", []byte("function FindProxyForURL(url, host) {}")))
	require.NoError(t, env.dir.Write("proxy.pac", []byte("var x;")))
	require.NoError(t, env.dir.Write("notes.txt", []byte("hello")))

	resp, body := env.do(t, http.MethodGet, "/pac")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "function FindProxyForURL(url, host) {}", body)
	assert.Equal(t, PACContentType, resp.Header.Get("Content-Type"))
	assert.Equal(t, "127.0.0.1", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, resp.Header.Get("Last-Modified"))

	resp, _ = env.do(t, http.MethodGet, "/proxy.pac")
	assert.Equal(t, PACContentType, resp.Header.Get("Content-Type"))

	resp, body = env.do(t, http.MethodGet, "/notes.txt")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "404 Not Found", body)

	resp, body = env.do(t, http.MethodHead, "/pac")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body)
}

func TestServeFile_NotFound(t *testing.T) {
	env := newTestEnv(t)

	for _, p := range []string{"/missing.pac", "/.hidden", "/a/b", "/"} {
		resp, body := env.do(t, http.MethodGet, p)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, p)
		assert.Equal(t, "404 Not Found", body, p)
		assert.Equal(t, "127.0.0.1", resp.Header.Get("Access-Control-Allow-Origin"), p)
	}
}

func TestServeFile_SnapshotDBNotServed(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.dir.Write("pac", []byte("var x;")))

	store, err := bolt.New(filepath.Join(env.dir.Root(), "snapshot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	_, err = store.Save(domain.Snapshot{Mode: domain.ModeFast, Artifact: "pac"}, domain.NewDomainSet("example.com"))
	require.NoError(t, err)

	resp, body := env.do(t, http.MethodGet, "/snapshot.db")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "404 Not Found", body)

	resp, _ = env.do(t, http.MethodGet, "/pac")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServeFile_ReplacedAtomically(t *testing.T) {
	env := newTestEnv(t)
	a := strings.Repeat("a", 64<<10)
	b := strings.Repeat("b", 64<<10)
	require.NoError(t, env.dir.Write("pac", []byte(a)))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			content := a
			if i%2 == 1 {
				content = b
			}
			_ = env.dir.Write("pac", []byte(content))
		}
	}()

	for i := 0; i < 50; i++ {
		resp, body := env.do(t, http.MethodGet, "/pac")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.True(t, body == a || body == b, "partial body of %d bytes", len(body))
	}
	<-done
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body)
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/status")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	env.ref.latest = &domain.Snapshot{Version: 3, Mode: domain.ModeFast, Artifact: "pac", Domains: 2}
	env.index.Update(domain.NewDomainSet("example.com", "github.com"))

	resp, body := env.do(t, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		Version uint64        `json:"version"`
		Mode    string        `json:"mode"`
		Domains int           `json:"domains"`
		Index   matcher.Stats `json:"index"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.Equal(t, uint64(3), got.Version)
	assert.Equal(t, "fast", got.Mode)
	assert.Equal(t, 2, got.Domains)
	assert.Equal(t, 2, got.Index.Domains)
}

func TestCheck(t *testing.T) {
	env := newTestEnv(t)
	env.index.Update(domain.NewDomainSet("example.com"))

	resp, body := env.do(t, http.MethodGet, "/check?host=www.Example.com")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var d domain.Decision
	require.NoError(t, json.Unmarshal([]byte(body), &d))
	assert.True(t, d.Proxied)
	assert.Equal(t, "example.com", d.MatchedDomain)

	resp, body = env.do(t, http.MethodGet, "/check?host=example.org")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal([]byte(body), &d))
	assert.False(t, d.Proxied)

	resp, _ = env.do(t, http.MethodGet, "/check")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	env.ref.mode = domain.ModePrecise
	resp, _ = env.do(t, http.MethodGet, "/check?host=example.com")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRefresh(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"ok", nil, http.StatusOK},
		{"rate limited", refresher.ErrRateLimited, http.StatusTooManyRequests},
		{"in progress", refresher.ErrInProgress, http.StatusConflict},
		{"failed", errors.New("compiling: fetch failed"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.ref.snap = domain.Snapshot{Version: 9}
			env.ref.err = tt.err

			resp, body := env.do(t, http.MethodPost, "/refresh")
			assert.Equal(t, tt.code, resp.StatusCode)
			assert.Equal(t, 1, env.ref.triggers)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
			if tt.err == nil {
				assert.Contains(t, body, `"version":9`)
			} else {
				assert.Contains(t, body, tt.err.Error())
			}
		})
	}
}

func TestRefresh_GetDoesNotTrigger(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodGet, "/refresh")
	assert.NotEqual(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, env.ref.triggers)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/healthz")

	resp, body := env.do(t, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `pac_http_requests_total{code="200",route="/healthz"} 1`)
}

func TestServer_StartStop(t *testing.T) {
	dir, err := artifact.NewDir(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, dir.Write("pac", []byte("x")))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(Options{
		Artifacts: dir,
		Refresher: &fakeRefresher{mode: domain.ModeFast},
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/pac"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, ln.Addr().String(), srv.Address())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
