package storage

import (
	"dupguard/internal/models"
	"dupguard/internal/providers"
	"dupguard/internal/structures"
	"path/filepath"
	"sync"
	"time"
)

type lastSeenDocument struct {
	LastStartupUTC string `json:"last_startup_utc"`
}

// LastSeenRepository keeps the single timestamp that bounds the catch-up
// replay window across restarts.
type LastSeenRepository struct {
	path   string
	files  *FileManager
	logger providers.Logger
	mu     sync.Mutex
}

func NewLastSeenRepository(conf *structures.Config, files *FileManager, logger providers.Logger) *LastSeenRepository {
	path := conf.Storage.LastSeenFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(conf.Storage.DataDir, path)
	}
	return &LastSeenRepository{path: path, files: files, logger: logger}
}

// Load returns the stored marker. Any read problem is treated as a first run.
func (r *LastSeenRepository) Load() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var doc lastSeenDocument
	found, err := r.files.LoadJSON(r.path, &doc)
	if err != nil {
		r.logger.Warnf(providers.TypeStore, "Could not read last seen marker %s, assuming first run: %s", r.path, err)
		return time.Time{}, false
	}
	if !found || doc.LastStartupUTC == "" {
		return time.Time{}, false
	}
	t, ok := models.ParseTimestamp(doc.LastStartupUTC)
	if !ok {
		r.logger.Warnf(providers.TypeStore, "Malformed last seen marker %q, assuming first run", doc.LastStartupUTC)
		return time.Time{}, false
	}
	return t, true
}

func (r *LastSeenRepository) Save(t time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.files.SaveJSON(r.path, lastSeenDocument{LastStartupUTC: t.UTC().Format(time.RFC3339Nano)})
}
