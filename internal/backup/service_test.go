package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ashare/papertrade/internal/config"
	"github.com/ashare/papertrade/internal/database"
)

type recordingUploader struct {
	paths []string
	err   error
}

func (u *recordingUploader) Upload(_ context.Context, path string) error {
	u.paths = append(u.paths, path)
	return u.err
}

func setupService(t *testing.T, cfg config.BackupConfig) *Service {
	t.Helper()

	db, err := database.New(database.Config{
		Path: filepath.Join(t.TempDir(), "ledger.db"),
		Name: "test",
	})
	require.NoError(t, err)
	require.NoError(t, database.InitSchema(db.Conn()))
	t.Cleanup(func() { db.Close() })

	svc, err := NewService(db, cfg, zerolog.Nop())
	require.NoError(t, err)
	return svc
}

func snapshots(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, snapshotPrefix+"*"+snapshotSuffix))
	require.NoError(t, err)
	return matches
}

func TestRunWritesSnapshot(t *testing.T) {
	dir := t.TempDir()
	svc := setupService(t, config.BackupConfig{Enabled: true, Dir: dir, KeepDays: 7})

	require.NoError(t, svc.Run(context.Background()))
	require.Len(t, snapshots(t, dir), 1)
}

func TestRunDisabled(t *testing.T) {
	dir := t.TempDir()
	svc := setupService(t, config.BackupConfig{Enabled: false, Dir: dir})

	require.NoError(t, svc.Run(context.Background()))
	require.Empty(t, snapshots(t, dir))
}

func TestRunPrunesExpiredSnapshots(t *testing.T) {
	dir := t.TempDir()
	svc := setupService(t, config.BackupConfig{Enabled: true, Dir: dir, KeepDays: 7})

	stale := filepath.Join(dir, snapshotPrefix+"20200101-010000"+snapshotSuffix)
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0644))
	past := time.Now().AddDate(0, 0, -10)
	require.NoError(t, os.Chtimes(stale, past, past))

	require.NoError(t, svc.Run(context.Background()))

	files := snapshots(t, dir)
	require.Len(t, files, 1)
	require.NotEqual(t, stale, files[0])
}

func TestRunMirrorsSnapshot(t *testing.T) {
	dir := t.TempDir()
	svc := setupService(t, config.BackupConfig{Enabled: true, Dir: dir, KeepDays: 7})

	rec := &recordingUploader{}
	svc.uploader = rec

	require.NoError(t, svc.Run(context.Background()))
	require.Len(t, rec.paths, 1)
	require.FileExists(t, rec.paths[0])
}

func TestRunReportsUploadFailure(t *testing.T) {
	dir := t.TempDir()
	svc := setupService(t, config.BackupConfig{Enabled: true, Dir: dir, KeepDays: 7})

	wantErr := errors.New("bucket unreachable")
	svc.uploader = &recordingUploader{err: wantErr}

	require.ErrorIs(t, svc.Run(context.Background()), wantErr)
}
