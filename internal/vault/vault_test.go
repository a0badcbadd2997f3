package vault

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStoreRetrievePurge(t *testing.T) {
	v := New(filepath.Join(t.TempDir(), "tokens"))

	require.NoError(t, v.Store("asd_default-alice", []byte("hello")))

	data, err := v.Retrieve("asd_default-alice")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)

	entries, err := v.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "asd_default-alice", entries[0].Name)

	require.NoError(t, v.Purge("asd_default-alice"))
	_, err = v.Retrieve("asd_default-alice")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPurgeMissingIsNotError(t *testing.T) {
	v := New(t.TempDir())
	require.NoError(t, v.Purge("nope"))
}

func TestListOnMissingDir(t *testing.T) {
	v := New(filepath.Join(t.TempDir(), "does-not-exist"))
	entries, err := v.List()
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestTokenReuseWhenNotExpired(t *testing.T) {
	v := New(t.TempDir())
	tok := &Token{Value: "bearer-abc", Login: "alice", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, v.StoreToken("asd_default_token-alice", tok))

	got, err := v.RetrieveToken("asd_default_token-alice")
	require.NoError(t, err)
	require.Equal(t, tok.Value, got.Value)
	require.False(t, got.IsExpired())
}

func TestExpiredTokenIsPurgedOnRetrieve(t *testing.T) {
	v := New(t.TempDir())
	tok := &Token{Value: "bearer-abc", Login: "alice", ExpiresAt: time.Now().Add(-time.Hour)}
	require.NoError(t, v.StoreToken("asd_default_token-alice", tok))

	_, err := v.RetrieveToken("asd_default_token-alice")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = v.Retrieve("asd_default_token-alice")
	require.ErrorIs(t, err, ErrNotFound, "expired token file should have been purged from disk")
}

func TestStoreOverwritesAtomically(t *testing.T) {
	v := New(t.TempDir())
	require.NoError(t, v.Store("k", []byte("v1")))
	require.NoError(t, v.Store("k", []byte("v2")))

	data, err := v.Retrieve("k")
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), data)
}
