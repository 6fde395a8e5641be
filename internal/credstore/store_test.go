package credstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	log := logrus.New()
	log.SetOutput(os.Stderr)
	store, err := New(dir, log)
	require.NoError(t, err)
	return store
}

func TestLoadSkipsIncompleteAndExcludedFiles(t *testing.T) {
	store := newTestStore(t)

	valid := `{"accessToken":"a","refreshToken":"r","tokenType":"Bearer"}`
	incomplete := `{"accessToken":"a"}`
	notJSON := `not json`

	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "valid.json"), []byte(valid), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "incomplete.json"), []byte(incomplete), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "broken.json"), []byte(notJSON), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "package.json"), []byte(valid), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "ignored.txt"), []byte(valid), 0o600))

	entries, err := store.Load()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "valid.json", entries[0].FileName)
}

func TestPersistDerivesFileNameFromEmail(t *testing.T) {
	store := newTestStore(t)
	rec := Record{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", Email: "user@example.com"}

	name, err := store.Persist("", rec)
	require.NoError(t, err)
	assert.Equal(t, "user_example_com.json", name)

	data, err := os.ReadFile(filepath.Join(store.Dir(), name))
	require.NoError(t, err)
	assert.Contains(t, string(data), "user@example.com")
}

func TestPersistRenamesOnEmailDiscovery(t *testing.T) {
	store := newTestStore(t)
	placeholder := FileNameFor("")
	rec := Record{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer"}
	_, err := store.Persist(placeholder, rec)
	require.NoError(t, err)
	// Simulate the file existing on disk before persist renames it away.
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), placeholder), []byte(`{}`), 0o600))

	rec.Email = "user@example.com"
	name, err := store.Persist(placeholder, rec)
	require.NoError(t, err)
	assert.Equal(t, "user_example_com.json", name)
	_, err = os.Stat(filepath.Join(store.Dir(), placeholder))
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteRejectsUnsafeFileNames(t *testing.T) {
	store := newTestStore(t)
	assert.ErrorIs(t, store.Delete("../evil.json"), ErrInvalidFileName)
	assert.ErrorIs(t, store.Delete("evil"), ErrInvalidFileName)
	assert.ErrorIs(t, store.Delete("a/b.json"), ErrInvalidFileName)
}

func TestDeleteRemovesFileAndEntry(t *testing.T) {
	store := newTestStore(t)
	rec := Record{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", Email: "x@example.com"}
	name, err := store.Persist("", rec)
	require.NoError(t, err)

	require.NoError(t, store.Delete(name))
	_, err = os.Stat(filepath.Join(store.Dir(), name))
	assert.True(t, os.IsNotExist(err))
	assert.Empty(t, store.Snapshot())
}
