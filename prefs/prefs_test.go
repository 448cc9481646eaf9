package prefs

import (
	"path/filepath"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/db/entities"
)

func openMem(t *testing.T, viewer string) *Store {
	t.Helper()
	store, err := Open("", viewer)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBlockAndUnblock(t *testing.T) {
	store := openMem(t, "alice")

	assert.False(t, store.IsBlocked("bob"))
	require.NoError(t, store.Block("bob"))
	require.NoError(t, store.Block("carol"))
	assert.True(t, store.IsBlocked("bob"))

	blocked, err := store.Blocked()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bob", "carol"}, lo.Map(blocked, func(item entities.BlockedUser, _ int) string { return item.UserId }))

	require.NoError(t, store.Unblock("bob"))
	assert.False(t, store.IsBlocked("bob"))
	assert.True(t, store.IsBlocked("carol"))
}

func TestBlockRejectsEmptyUser(t *testing.T) {
	store := openMem(t, "alice")
	assert.ErrorIs(t, store.Block(""), ErrEmptyUser)
}

func TestWarnCapsAtMax(t *testing.T) {
	store := openMem(t, "alice")

	level, err := store.WarningLevel("bob")
	require.NoError(t, err)
	assert.Zero(t, level)

	for i := 1; i <= 7; i++ {
		warning, err := store.Warn("bob")
		require.NoError(t, err)
		assert.Equal(t, min(i*WarnStep, MaxWarnLevel), warning.Level)
	}
	level, err = store.WarningLevel("bob")
	require.NoError(t, err)
	assert.Equal(t, MaxWarnLevel, level)
}

func TestBlockListPersistsPerViewer(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "prefs")

	store, err := Open(dir, "alice")
	require.NoError(t, err)
	require.NoError(t, store.Block("bob"))
	_, err = store.Warn("bob")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := Open(dir, "alice")
	require.NoError(t, err)
	assert.True(t, reopened.IsBlocked("bob"))
	level, err := reopened.WarningLevel("bob")
	require.NoError(t, err)
	assert.Equal(t, WarnStep, level)
	require.NoError(t, reopened.Close())

	other, err := Open(dir, "carol")
	require.NoError(t, err)
	defer other.Close()
	assert.False(t, other.IsBlocked("bob"))
	level, err = other.WarningLevel("bob")
	require.NoError(t, err)
	assert.Zero(t, level)
}
