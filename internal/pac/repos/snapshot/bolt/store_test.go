package bolt

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/pac-server/internal/pac/domain"
)

func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "pac.db")
}

func TestStore_SaveLatestDomains(t *testing.T) {
	st, err := New(tempDB(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	_, err = st.Latest()
	assert.ErrorIs(t, err, ErrNoSnapshot)

	now := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	saved, err := st.Save(domain.Snapshot{
		Mode:      domain.ModeFast,
		Source:    "gfwlist.txt",
		Artifact:  "pac",
		UpdatedAt: now,
		Rules:     4,
		Domains:   2,
	}, domain.NewDomainSet("example.com", "example.co.uk"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), saved.Version)

	latest, err := st.Latest()
	require.NoError(t, err)
	assert.Equal(t, saved, latest)

	set, err := st.Domains()
	require.NoError(t, err)
	assert.Equal(t, []string{"example.co.uk", "example.com"}, set.Sorted())

	ok, err := st.HasDomain("example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	// a precise snapshot replaces the index with nothing and bumps the version
	saved, err = st.Save(domain.Snapshot{Mode: domain.ModePrecise, UpdatedAt: now.Add(time.Minute)}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), saved.Version)

	ok, err = st.HasDomain("example.com")
	require.NoError(t, err)
	assert.False(t, ok)
	set, err = st.Domains()
	require.NoError(t, err)
	assert.Zero(t, set.Len())
}

func TestStore_Reopen(t *testing.T) {
	path := tempDB(t)
	st, err := New(path)
	require.NoError(t, err)
	_, err = st.Save(domain.Snapshot{UpdatedAt: time.Unix(1723551000, 0).UTC()}, domain.NewDomainSet("example.org"))
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = New(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	latest, err := st.Latest()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), latest.Version)
	ok, err := st.HasDomain("example.org")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNew_BadPath(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing", "dir", "pac.db"))
	assert.Error(t, err)
}
