package storage

import (
	"dupguard/internal/models"
	"dupguard/internal/providers"
	"dupguard/internal/storage/interfaces"
	"dupguard/internal/structures"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var ErrBackupDisabled = errors.New("backups are disabled")

// BackupManager keeps one zstd-compressed copy of each fingerprint file,
// refreshed on schedule and before destructive admin operations.
type BackupManager struct {
	dir        string
	repo       *FingerprintRepository
	compressor interfaces.CompressorInterface
	files      *FileManager
	logger     providers.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewBackupManager(conf *structures.Config, repo *FingerprintRepository, compressor interfaces.CompressorInterface, files *FileManager, logger providers.Logger) *BackupManager {
	return &BackupManager{
		dir:        conf.Storage.BackupDir,
		repo:       repo,
		compressor: compressor,
		files:      files,
		logger:     logger,
		locks:      make(map[string]*sync.Mutex),
	}
}

func (b *BackupManager) Enabled() bool {
	return b.dir != ""
}

// lock serializes snapshots of one server, so the scheduled pass and a
// pre-clear snapshot land in the order they read the live file.
func (b *BackupManager) lock(serverID string) *sync.Mutex {
	b.locksMu.Lock()
	defer b.locksMu.Unlock()
	l, ok := b.locks[serverID]
	if !ok {
		l = &sync.Mutex{}
		b.locks[serverID] = l
	}
	return l
}

func (b *BackupManager) path(serverID string) string {
	return filepath.Join(b.dir, models.HashFileName(serverID)+".zst")
}

// Snapshot compresses the server's current fingerprint file. A server with
// no file yet has nothing to back up and is not an error.
func (b *BackupManager) Snapshot(serverID string) error {
	if !b.Enabled() {
		return ErrBackupDisabled
	}
	l := b.lock(serverID)
	l.Lock()
	defer l.Unlock()

	var data []byte
	var readErr error
	b.repo.WithLock(serverID, func(_ *models.FingerprintStore) bool {
		data, readErr = os.ReadFile(b.repo.Path(serverID))
		return false
	})
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return nil
		}
		return readErr
	}

	compressed, err := b.compressor.Compress(data)
	if err != nil {
		return fmt.Errorf("compress %s: %w", serverID, err)
	}
	if err := b.files.SaveBytes(b.path(serverID), compressed); err != nil {
		return err
	}
	b.logger.Debugf(providers.TypeStore, "Backed up server %s: %d -> %d bytes", serverID, len(data), len(compressed))
	return nil
}

// SnapshotAll backs up every server that has a fingerprint file and returns
// the first error after trying all of them.
func (b *BackupManager) SnapshotAll() error {
	if !b.Enabled() {
		return ErrBackupDisabled
	}
	servers, err := b.repo.Servers()
	if err != nil {
		return err
	}
	var firstErr error
	for _, id := range servers {
		if err := b.Snapshot(id); err != nil {
			b.logger.Errorf(providers.TypeStore, "Backup of server %s failed: %s", id, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Read returns the decompressed content of the server's latest backup.
func (b *BackupManager) Read(serverID string) ([]byte, error) {
	if !b.Enabled() {
		return nil, ErrBackupDisabled
	}
	compressed, err := os.ReadFile(b.path(serverID))
	if err != nil {
		return nil, err
	}
	return b.compressor.Decompress(compressed)
}

// Restore replaces the live fingerprint file with the latest backup.
func (b *BackupManager) Restore(serverID string) (int, error) {
	data, err := b.Read(serverID)
	if err != nil {
		return 0, err
	}
	store := models.NewFingerprintStore()
	if err := store.UnmarshalJSON(data); err != nil {
		return 0, fmt.Errorf("backup of %s is unreadable: %w", serverID, err)
	}
	if !b.repo.Save(serverID, store) {
		return 0, fmt.Errorf("%w: %s", ErrSaveFailed, serverID)
	}
	return store.Count(), nil
}
