package storage

import (
	"dupguard/internal/models"
	"dupguard/internal/providers"
	"dupguard/internal/structures"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

var ErrSaveFailed = errors.New("fingerprint store could not be saved")

// FingerprintRepository persists one JSON document per server. All access to
// a server's document is serialized by a per-server lock; different servers
// never contend.
type FingerprintRepository struct {
	dir     string
	files   *FileManager
	logger  providers.Logger
	metrics providers.MetricsProviderInterface

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewFingerprintRepository(conf *structures.Config, files *FileManager, logger providers.Logger, metrics providers.MetricsProviderInterface) *FingerprintRepository {
	return &FingerprintRepository{
		dir:     conf.Storage.DataDir,
		files:   files,
		logger:  logger,
		metrics: metrics,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (r *FingerprintRepository) Path(serverID string) string {
	return filepath.Join(r.dir, models.HashFileName(serverID))
}

func (r *FingerprintRepository) lock(serverID string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.locks[serverID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[serverID] = l
	}
	return l
}

// Load reads the server's document. A missing or unreadable file yields an
// empty store; the failure is logged, never returned.
func (r *FingerprintRepository) Load(serverID string) *models.FingerprintStore {
	l := r.lock(serverID)
	l.Lock()
	defer l.Unlock()
	return r.load(serverID)
}

// Save replaces the server's document atomically and reports success.
func (r *FingerprintRepository) Save(serverID string, store *models.FingerprintStore) bool {
	l := r.lock(serverID)
	l.Lock()
	defer l.Unlock()
	return r.save(serverID, store)
}

// WithLock runs fn on a freshly loaded store while holding the server lock.
// When fn reports a change the store is saved before the lock is released.
// The returned flag is false only when a required save failed.
func (r *FingerprintRepository) WithLock(serverID string, fn func(store *models.FingerprintStore) (changed bool)) bool {
	l := r.lock(serverID)
	l.Lock()
	defer l.Unlock()

	store := r.load(serverID)
	if !fn(store) {
		return true
	}
	return r.save(serverID, store)
}

func (r *FingerprintRepository) load(serverID string) *models.FingerprintStore {
	path := r.Path(serverID)
	store := models.NewFingerprintStore()
	found, err := r.files.LoadJSON(path, store)
	if err != nil {
		r.logger.Errorf(providers.TypeStore, "Unreadable fingerprint file %s, starting empty: %s", path, err)
		return models.NewFingerprintStore()
	}
	if !found {
		return store
	}
	if len(store.Skipped) > 0 {
		r.logger.Warnf(providers.TypeStore, "Inconsistent fingerprint file %s: skipped %d entries (%s)",
			path, len(store.Skipped), strings.Join(store.Skipped, ", "))
	}
	return store
}

func (r *FingerprintRepository) save(serverID string, store *models.FingerprintStore) bool {
	path := r.Path(serverID)
	start := time.Now()
	err := r.files.SaveJSON(path, store)
	r.metrics.ObservePersistenceDuration(time.Since(start))
	if err != nil {
		r.logger.Errorf(providers.TypeStore, "Failed to save fingerprint file %s: %s", path, err)
		return false
	}
	r.metrics.SetRecordsTotal(serverID, store.Count())
	r.logger.Debugf(providers.TypeStore, "Saved %d records to %s", store.Count(), path)
	return true
}

// Servers lists the server ids that have a fingerprint file on disk.
func (r *FingerprintRepository) Servers() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, models.HashFilePrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(name, models.HashFilePrefix), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}
