// Package backup snapshots the ledger database overnight and prunes old
// copies, optionally mirroring each snapshot to S3-compatible storage.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ashare/papertrade/internal/config"
	"github.com/ashare/papertrade/internal/database"
)

const (
	snapshotPrefix  = "papertrade-"
	snapshotSuffix  = ".db"
	timestampFormat = "20060102-150405"
)

// Uploader mirrors a local snapshot to remote storage.
type Uploader interface {
	Upload(ctx context.Context, path string) error
}

// Service produces database snapshots with VACUUM INTO.
type Service struct {
	db       *database.DB
	cfg      config.BackupConfig
	uploader Uploader
	log      zerolog.Logger
}

// NewService creates the backup service. The S3 mirror is wired only
// when a bucket is configured.
func NewService(db *database.DB, cfg config.BackupConfig, log zerolog.Logger) (*Service, error) {
	s := &Service{
		db:  db,
		cfg: cfg,
		log: log.With().Str("component", "backup").Logger(),
	}

	if cfg.S3Bucket != "" {
		uploader, err := newS3Uploader(context.Background(), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to configure snapshot mirror: %w", err)
		}
		s.uploader = uploader
	}

	return s, nil
}

// Run takes one snapshot, prunes expired ones and mirrors the new file.
func (s *Service) Run(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}

	// Shrink the WAL first so the snapshot captures everything.
	if err := s.db.WALCheckpoint("TRUNCATE"); err != nil {
		s.log.Warn().Err(err).Msg("WAL checkpoint before snapshot failed")
	}

	dest := filepath.Join(s.cfg.Dir, snapshotPrefix+time.Now().Format(timestampFormat)+snapshotSuffix)
	if err := s.db.BackupTo(ctx, dest); err != nil {
		return fmt.Errorf("snapshot failed: %w", err)
	}
	s.log.Info().Str("path", dest).Msg("Snapshot written")

	if err := s.prune(); err != nil {
		s.log.Error().Err(err).Msg("Snapshot pruning failed")
	}

	if s.uploader != nil {
		if err := s.uploader.Upload(ctx, dest); err != nil {
			return fmt.Errorf("snapshot upload failed: %w", err)
		}
		s.log.Info().Str("path", dest).Msg("Snapshot mirrored")
	}

	return nil
}

// prune removes snapshots older than the retention window.
func (s *Service) prune() error {
	if s.cfg.KeepDays <= 0 {
		return nil
	}

	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return err
	}

	cutoff := time.Now().AddDate(0, 0, -s.cfg.KeepDays)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.cfg.Dir, name)); err != nil {
			s.log.Error().Err(err).Str("file", name).Msg("Failed to remove expired snapshot")
			continue
		}
		s.log.Info().Str("file", name).Msg("Expired snapshot removed")
	}

	return nil
}
