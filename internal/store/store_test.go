package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portalcal/internal/model"
)

func drivers(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	fileStore, err := Open(DriverFile, filepath.Join(dir, "files"))
	require.NoError(t, err)
	sqliteStore, err := Open(DriverSQLite, filepath.Join(dir, "db", "snap.db"))
	require.NoError(t, err)

	t.Cleanup(func() {
		fileStore.Close()
		sqliteStore.Close()
	})
	return map[string]Store{DriverFile: fileStore, DriverSQLite: sqliteStore}
}

func TestStores_RoundTrip(t *testing.T) {
	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			var missing []model.Event
			ok, err := s.Load(KeyEvents, &missing)
			require.NoError(t, err)
			assert.False(t, ok)

			in := []model.Event{{ID: "e1", Title: "Exam", Date: "2025-06-01", Time: "09:00", Type: model.EventExam, Origin: model.OriginLocal}}
			require.NoError(t, s.Save(KeyEvents, in))

			var out []model.Event
			ok, err = s.Load(KeyEvents, &out)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, in, out)

			// Save replaces, it never merges.
			require.NoError(t, s.Save(KeyEvents, []model.Event{}))
			ok, err = s.Load(KeyEvents, &out)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Empty(t, out)

			require.NoError(t, s.Delete(KeyEvents))
			require.NoError(t, s.Delete(KeyEvents))
			ok, err = s.Load(KeyEvents, &out)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStores_RejectBadKeys(t *testing.T) {
	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, s.Save("../escape", 1))
			assert.Error(t, s.Save("", 1))
			_, err := s.Load("A/B", new(int))
			assert.Error(t, err)
		})
	}
}

func TestFileStore_CorruptDocument(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, KeyAnnouncements+".json"), []byte("{not json"), 0o600))

	var out []model.Announcement
	ok, err := s.Load(KeyAnnouncements, &out)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestFileStore_Permissions(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save(KeyRead, map[string]bool{"a": true}))

	info, err := os.Stat(filepath.Join(dir, KeyRead+".json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("redis", t.TempDir())
	assert.Error(t, err)
}
