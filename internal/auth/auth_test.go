package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreSaveLoadClearRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())

	_, _, ok, err := store.Load()
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Save("token-123", "alice"))

	token, username, ok, err := store.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "token-123", token)
	require.Equal(t, "alice", username)

	require.NoError(t, store.Clear())

	_, _, ok, err = store.Load()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestClearOnMissingStoreIsNotAnError(t *testing.T) {
	store := NewStore(t.TempDir())
	require.NoError(t, store.Clear())
}
