package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"tourbook/internal/config"
	"tourbook/internal/metrics"

	"github.com/rs/zerolog"
)

const (
	snapshotPrefix = "tourbook_"
	snapshotLayout = "20060102_150405"
	snapshotExt    = ".db"
)

// Snapshot describes one backup file.
type Snapshot struct {
	Path      string
	TakenAt   time.Time
	SizeBytes int64
	Bookings  int
}

// BackupService writes periodic VACUUM INTO snapshots of the live database
// and prunes the ones older than the retention window.
type BackupService struct {
	db     *DB
	config config.BackupConfig
	now    func() time.Time
	logger zerolog.Logger
}

func NewBackupService(db *DB, cfg config.BackupConfig, logger *zerolog.Logger) *BackupService {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "backup").Logger()
	}
	return &BackupService{db: db, config: cfg, now: time.Now, logger: l}
}

// Start snapshots once immediately and then on every interval until ctx is done.
func (s *BackupService) Start(ctx context.Context) {
	if !s.config.Enabled {
		s.logger.Info().Msg("backups disabled")
		return
	}
	if s.db.Path() == ":memory:" {
		s.logger.Warn().Msg("backups skipped for in-memory database")
		return
	}

	interval := s.config.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	s.logger.Info().Dur("interval", interval).Str("dir", s.config.StoragePath).Msg("backup service started")

	s.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *BackupService) runOnce(ctx context.Context) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		metrics.IncBackup("failed")
		s.logger.Error().Err(err).Msg("backup failed")
		return
	}
	metrics.IncBackup("ok")
	s.logger.Info().
		Str("path", snap.Path).
		Int64("bytes", snap.SizeBytes).
		Int("bookings", snap.Bookings).
		Msg("backup written")

	if removed, err := s.Prune(); err != nil {
		s.logger.Warn().Err(err).Msg("backup pruning failed")
	} else if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("old backups pruned")
	}
}

// Snapshot writes a consistent copy of the database. The copy is taken through
// the shared connection, so it never interleaves with a booking write.
func (s *BackupService) Snapshot(ctx context.Context) (*Snapshot, error) {
	if err := os.MkdirAll(s.config.StoragePath, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	takenAt := s.now()
	path := filepath.Join(s.config.StoragePath, snapshotPrefix+takenAt.Format(snapshotLayout)+snapshotExt)
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("backup %s already exists", filepath.Base(path))
	}

	var bookings int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings`).Scan(&bookings); err != nil {
		return nil, fmt.Errorf("count bookings: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("vacuum into %s: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Path: path, TakenAt: takenAt, SizeBytes: info.Size(), Bookings: bookings}, nil
}

// Snapshots lists the backups in StoragePath, newest first. Files that do not
// follow the snapshot naming are ignored.
func (s *BackupService) Snapshots() ([]Snapshot, error) {
	entries, err := os.ReadDir(s.config.StoragePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []Snapshot
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, snapshotPrefix) || filepath.Ext(name) != snapshotExt {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), snapshotExt)
		takenAt, err := time.ParseInLocation(snapshotLayout, stamp, time.Local)
		if err != nil {
			continue
		}
		snap := Snapshot{Path: filepath.Join(s.config.StoragePath, name), TakenAt: takenAt}
		if info, err := entry.Info(); err == nil {
			snap.SizeBytes = info.Size()
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TakenAt.After(out[j].TakenAt) })
	return out, nil
}

// Prune deletes snapshots older than RetentionDays. The newest snapshot is
// always kept, however old it is.
func (s *BackupService) Prune() (int, error) {
	if s.config.RetentionDays <= 0 {
		return 0, nil
	}
	snaps, err := s.Snapshots()
	if err != nil {
		return 0, err
	}

	cutoff := s.now().AddDate(0, 0, -s.config.RetentionDays)
	removed := 0
	for i, snap := range snaps {
		if i == 0 || !snap.TakenAt.Before(cutoff) {
			continue
		}
		if err := os.Remove(snap.Path); err != nil {
			s.logger.Warn().Err(err).Str("file", snap.Path).Msg("failed to delete old backup")
			continue
		}
		removed++
	}
	return removed, nil
}
