package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aristath/rebalancer/internal/database"
	"github.com/rs/zerolog"
)

const (
	backupTimestampLayout = "2006-01-02-150405"
	backupFilePrefix      = "rebalancer-backup-"
	backupFileSuffix      = ".tar.gz"
	metadataFilename      = "backup-metadata.json"

	// minBackupsToKeep survive rotation regardless of the retention count
	minBackupsToKeep = 3
)

// BackupMetadata describes the content of a backup archive
type BackupMetadata struct {
	Timestamp time.Time          `json:"timestamp"`
	Version   string             `json:"version"`
	Databases []DatabaseMetadata `json:"databases"`
}

// DatabaseMetadata describes one database file in a backup archive
type DatabaseMetadata struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupInfo is a backup found in the object store
type BackupInfo struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// BackupService archives SQLite databases and ships them to an object store
type BackupService struct {
	store     ObjectStore
	databases map[string]*database.DB
	dataDir   string
	prefix    string
	now       func() time.Time
	log       zerolog.Logger
}

// NewBackupService creates a new backup service. Archives are stored under prefix.
func NewBackupService(
	store ObjectStore,
	databases map[string]*database.DB,
	dataDir string,
	prefix string,
	log zerolog.Logger,
) *BackupService {
	return &BackupService{
		store:     store,
		databases: databases,
		dataDir:   dataDir,
		prefix:    strings.Trim(prefix, "/"),
		now:       time.Now,
		log:       log.With().Str("service", "backup").Logger(),
	}
}

func (s *BackupService) key(filename string) string {
	if s.prefix == "" {
		return filename
	}
	return path.Join(s.prefix, filename)
}

// CreateAndUploadBackup copies every database, verifies the copies, packs them
// with a metadata file into a tar.gz archive and uploads it. Returns the object key.
func (s *BackupService) CreateAndUploadBackup(ctx context.Context) (string, error) {
	s.log.Info().Msg("Starting offsite backup")
	startTime := time.Now()

	stagingDir, err := os.MkdirTemp(s.dataDir, "backup-staging-")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	names := make([]string, 0, len(s.databases))
	for name := range s.databases {
		names = append(names, name)
	}
	sort.Strings(names)

	now := s.now().UTC()
	metadata := BackupMetadata{
		Timestamp: now,
		Version:   "1",
		Databases: make([]DatabaseMetadata, 0, len(names)),
	}

	files := make([]string, 0, len(names)+1)
	for _, name := range names {
		filename := name + ".db"
		dbPath := filepath.Join(stagingDir, filename)

		if err := s.backupDatabase(s.databases[name], dbPath); err != nil {
			return "", fmt.Errorf("failed to backup %s: %w", name, err)
		}
		if err := verifyBackup(dbPath); err != nil {
			return "", fmt.Errorf("backup of %s failed verification: %w", name, err)
		}

		info, err := os.Stat(dbPath)
		if err != nil {
			return "", fmt.Errorf("failed to stat %s backup: %w", name, err)
		}
		checksum, err := calculateChecksum(dbPath)
		if err != nil {
			return "", fmt.Errorf("failed to calculate checksum for %s: %w", name, err)
		}

		metadata.Databases = append(metadata.Databases, DatabaseMetadata{
			Name:      name,
			Filename:  filename,
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
		files = append(files, filename)
	}

	if err := writeMetadata(filepath.Join(stagingDir, metadataFilename), metadata); err != nil {
		return "", fmt.Errorf("failed to write metadata: %w", err)
	}
	files = append(files, metadataFilename)

	archiveName := backupFilePrefix + now.Format(backupTimestampLayout) + backupFileSuffix
	archivePath := filepath.Join(stagingDir, archiveName)
	if err := createArchive(archivePath, stagingDir, files); err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}

	archive, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer archive.Close()

	key := s.key(archiveName)
	if err := s.store.Upload(ctx, key, archive); err != nil {
		return "", err
	}

	s.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Str("key", key).
		Int("databases", len(names)).
		Msg("Offsite backup completed")

	return key, nil
}

// ListBackups lists the archives under the prefix, newest first
func (s *BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.store.List(ctx, s.key(backupFilePrefix))
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	now := s.now()
	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		filename := path.Base(obj.Key)
		if !strings.HasPrefix(filename, backupFilePrefix) || !strings.HasSuffix(filename, backupFileSuffix) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(filename, backupFilePrefix), backupFileSuffix)
		timestamp, err := time.Parse(backupTimestampLayout, stamp)
		if err != nil {
			s.log.Warn().Str("key", obj.Key).Msg("Failed to parse timestamp from backup name")
			continue
		}
		backups = append(backups, BackupInfo{
			Key:       obj.Key,
			Timestamp: timestamp,
			SizeBytes: obj.SizeBytes,
			AgeHours:  int64(now.Sub(timestamp).Hours()),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// RotateOldBackups keeps the newest keep archives, never fewer than three,
// and deletes the rest. Returns how many were deleted.
func (s *BackupService) RotateOldBackups(ctx context.Context, keep int) (int, error) {
	if keep < minBackupsToKeep {
		keep = minBackupsToKeep
	}

	backups, err := s.ListBackups(ctx)
	if err != nil {
		return 0, err
	}
	if len(backups) <= keep {
		s.log.Debug().Int("count", len(backups)).Msg("Too few backups to rotate")
		return 0, nil
	}

	deleted := 0
	for _, backup := range backups[keep:] {
		if err := s.store.Delete(ctx, backup.Key); err != nil {
			s.log.Error().Err(err).Str("key", backup.Key).Msg("Failed to delete old backup")
			continue
		}
		deleted++
	}

	s.log.Info().
		Int("deleted", deleted).
		Int("remaining", len(backups)-deleted).
		Msg("Backup rotation completed")

	return deleted, nil
}

// backupDatabase writes a consistent copy of db with VACUUM INTO
func (s *BackupService) backupDatabase(db *database.DB, backupPath string) error {
	if _, err := db.Conn().Exec("VACUUM INTO ?", backupPath); err != nil {
		return fmt.Errorf("VACUUM INTO failed: %w", err)
	}
	s.log.Debug().Str("database", db.Name()).Str("backup_path", backupPath).Msg("Database copied")
	return nil
}

// verifyBackup runs an integrity check on a database copy
func verifyBackup(backupPath string) error {
	backupDB, err := sql.Open("sqlite", backupPath)
	if err != nil {
		return fmt.Errorf("failed to open backup: %w", err)
	}
	defer backupDB.Close()

	var result string
	if err := backupDB.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

func calculateChecksum(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

func writeMetadata(filePath string, metadata BackupMetadata) error {
	file, err := os.Create(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(metadata)
}

func createArchive(archivePath, sourceDir string, filenames []string) error {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer archiveFile.Close()

	gzipWriter := gzip.NewWriter(archiveFile)
	tarWriter := tar.NewWriter(gzipWriter)

	for _, filename := range filenames {
		if err := addFileToArchive(tarWriter, filepath.Join(sourceDir, filename), filename); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", filename, err)
		}
	}

	if err := tarWriter.Close(); err != nil {
		return err
	}
	return gzipWriter.Close()
}

func addFileToArchive(tarWriter *tar.Writer, filePath, nameInArchive string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}
	if err := tarWriter.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tarWriter, file)
	return err
}
