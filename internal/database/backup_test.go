package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tourbook/internal/config"
	"tourbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackupFixture(t *testing.T, retentionDays int) (*DB, *BackupService, string) {
	t.Helper()
	dir := t.TempDir()
	logger := zerolog.Nop()

	db, err := NewDB(filepath.Join(dir, "tourbook.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.SeedTours(context.Background(), []models.Tour{{ID: "hoi-an", Title: "Hoi An", Price: 500_000}})
	require.NoError(t, err)

	storage := filepath.Join(dir, "backups")
	s := NewBackupService(db, config.BackupConfig{Enabled: true, StoragePath: storage, RetentionDays: retentionDays}, &logger)
	return db, s, storage
}

func TestBackupSnapshotRestores(t *testing.T) {
	_, s, storage := newBackupFixture(t, 7)
	s.now = func() time.Time { return time.Date(2026, 10, 17, 3, 0, 0, 0, time.Local) }

	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(storage, "tourbook_20261017_030000.db"), snap.Path)
	assert.Positive(t, snap.SizeBytes)
	assert.Zero(t, snap.Bookings)

	logger := zerolog.Nop()
	restored, err := NewDB(snap.Path, &logger)
	require.NoError(t, err)
	defer restored.Close()
	tour, err := restored.GetTour(context.Background(), "hoi-an")
	require.NoError(t, err)
	assert.Equal(t, "Hoi An", tour.Title)

	_, err = s.Snapshot(context.Background())
	assert.Error(t, err, "same timestamp must not overwrite a snapshot")
}

func TestBackupPruneKeepsNewest(t *testing.T) {
	_, s, storage := newBackupFixture(t, 3)
	require.NoError(t, os.MkdirAll(storage, 0o755))

	for _, name := range []string{
		"tourbook_20261001_030000.db",
		"tourbook_20261005_030000.db",
		"tourbook_20261016_030000.db",
		"notes.txt",
		"tourbook_manual.db",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(storage, name), []byte("x"), 0o644))
	}
	s.now = func() time.Time { return time.Date(2026, 10, 17, 3, 0, 0, 0, time.Local) }

	snaps, err := s.Snapshots()
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, 16, snaps[0].TakenAt.Day())

	removed, err := s.Prune()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	entries, err := os.ReadDir(storage)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"tourbook_20261016_030000.db", "notes.txt", "tourbook_manual.db"}, names)

	// far in the future every snapshot is stale, but the newest survives
	s.now = func() time.Time { return time.Date(2027, 1, 1, 0, 0, 0, 0, time.Local) }
	removed, err = s.Prune()
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestBackupDisabledAndInMemory(t *testing.T) {
	logger := zerolog.Nop()
	mem, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	defer mem.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dir := t.TempDir()
	NewBackupService(mem, config.BackupConfig{Enabled: false, StoragePath: dir}, &logger).Start(ctx)
	NewBackupService(mem, config.BackupConfig{Enabled: true, StoragePath: dir}, &logger).Start(ctx)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
