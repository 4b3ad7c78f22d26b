package storage

import (
	"dupguard/internal/providers"
	"dupguard/internal/storage/interfaces"
	"dupguard/internal/structures"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler owns the periodic jobs: the last-seen checkpoint and, when a
// backup directory is configured, fingerprint snapshots.
type Scheduler struct {
	config   *structures.Config
	logger   providers.Logger
	policies *PolicyRepository
	lastSeen *LastSeenRepository
	backups  *BackupManager
	cron     *cron.Cron
	opsMu    sync.Mutex
	now      func() time.Time
}

func (s *Scheduler) Init() {
	s.cron = cron.New()

	_, err := s.cron.AddFunc(s.config.Checkpoint.Schedule, s.checkpoint)
	if err != nil {
		s.logger.Errorf(providers.TypeApp, "Invalid checkpoint schedule %q: %s", s.config.Checkpoint.Schedule, err)
	}

	if s.config.Checkpoint.BackupSchedule != "" && s.backups.Enabled() {
		_, err = s.cron.AddFunc(s.config.Checkpoint.BackupSchedule, s.backup)
		if err != nil {
			s.logger.Errorf(providers.TypeApp, "Invalid backup schedule %q: %s", s.config.Checkpoint.BackupSchedule, err)
		}
	}

	s.cron.Start()
}

func (s *Scheduler) checkpoint() {
	s.opsMu.Lock()
	defer s.opsMu.Unlock()

	if err := s.lastSeen.Save(s.now()); err != nil {
		s.logger.Errorf(providers.TypeApp, "Error while saving last seen marker: %s", err)
		return
	}
	s.logger.Debugf(providers.TypeApp, "Last seen marker updated")
}

func (s *Scheduler) backup() {
	s.opsMu.Lock()
	defer s.opsMu.Unlock()

	s.logger.Infof(providers.TypeApp, "Backing up fingerprint files...")
	if err := s.backups.SnapshotAll(); err != nil {
		s.logger.Errorf(providers.TypeApp, "Backup finished with errors: %s", err)
		return
	}
	s.logger.Infof(providers.TypeApp, "Backup finished")
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Restore loads the policy cache from disk.
func (s *Scheduler) Restore() error {
	return s.policies.Restore()
}

// Persist flushes the policy cache and the last-seen marker.
func (s *Scheduler) Persist() error {
	s.opsMu.Lock()
	defer s.opsMu.Unlock()

	s.logger.Infof(providers.TypeApp, "Persisting state...")
	err := errors.Join(s.policies.Save(), s.lastSeen.Save(s.now()))
	if err != nil {
		s.logger.Errorf(providers.TypeApp, "Error while persisting state: %s", err)
	}
	return err
}

func NewScheduler(config *structures.Config, logger providers.Logger, policies *PolicyRepository, lastSeen *LastSeenRepository, backups *BackupManager) interfaces.SchedulerInterface {
	return &Scheduler{
		config:   config,
		logger:   logger,
		policies: policies,
		lastSeen: lastSeen,
		backups:  backups,
		now:      time.Now,
	}
}
