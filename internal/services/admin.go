package services

import (
	"context"
	"dupguard/internal/models"
	"dupguard/internal/platform"
	"dupguard/internal/providers"
	"dupguard/internal/storage"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

var (
	ErrBadReference  = errors.New("not a message id or message link")
	ErrScopeMismatch = errors.New("channel clear requires channel scope")
	ErrNothingStored = errors.New("no records for this message")
)

var messageLinkID = regexp.MustCompile(`/(\d+)/?$`)

// ParseMessageReference extracts a message id from a bare id or from a link
// whose last path segment is the id.
func ParseMessageReference(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", ErrBadReference
	}
	if isDigits(ref) {
		return ref, nil
	}
	if m := messageLinkID.FindStringSubmatch(ref); m != nil {
		return m[1], nil
	}
	return "", fmt.Errorf("%w: %q", ErrBadReference, ref)
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}

type ClearResult struct {
	Removed  int
	BackedUp bool
}

type ClearFlagsResult struct {
	Checked int
	Cleared int
	Errors  int
	Stopped bool
}

type RecordView struct {
	Identifier string    `json:"identifier"`
	ChannelID  string    `json:"channel_id,omitempty"`
	Hash       string    `json:"hash"`
	AuthorID   string    `json:"user_id,omitempty"`
	CreatedAt  time.Time `json:"timestamp,omitempty"`
}

type AdminServiceInterface interface {
	RemoveMessage(serverID, reference string) ([]string, error)
	Clear(serverID, channelID string) (ClearResult, error)
	ClearFlags(ctx context.Context, serverID, channelID string, limit int) (ClearFlagsResult, error)
	Records(serverID, channelID string) []RecordView
	RestoreBackup(serverID string) (int, error)
	Policy(serverID string) models.ServerPolicy
	SetPolicy(serverID, field string, value any) (models.ServerPolicy, error)
	SetChannelMonitored(serverID, channelID string, monitored bool) (models.ServerPolicy, error)
	SetUserAllowed(serverID, userID string, allowed bool) (models.ServerPolicy, error)
	Scan(ctx context.Context, req ScanRequest) (ScanReport, error)
	Servers() []string
}

// Admin groups the management operations of a server's data.
type Admin struct {
	client     platform.Client
	policies   *storage.PolicyRepository
	repo       *storage.FingerprintRepository
	backups    *storage.BackupManager
	reconciler *Reconciler
	logger     providers.Logger
	clearDelay time.Duration
}

func NewAdmin(client platform.Client, policies *storage.PolicyRepository, repo *storage.FingerprintRepository, backups *storage.BackupManager, reconciler *Reconciler, logger providers.Logger) *Admin {
	return &Admin{
		client:     client,
		policies:   policies,
		repo:       repo,
		backups:    backups,
		reconciler: reconciler,
		logger:     logger,
		clearDelay: 250 * time.Millisecond,
	}
}

// RemoveMessage drops every fingerprint recorded from the referenced message.
func (a *Admin) RemoveMessage(serverID, reference string) ([]string, error) {
	messageID, err := ParseMessageReference(reference)
	if err != nil {
		return nil, err
	}
	var removed []string
	saved := a.repo.WithLock(serverID, func(store *models.FingerprintStore) bool {
		removed = store.RemoveMessage(messageID)
		return len(removed) > 0
	})
	if !saved {
		return nil, storage.ErrSaveFailed
	}
	if len(removed) == 0 {
		return nil, ErrNothingStored
	}
	a.logger.Infof(providers.TypeAdmin, "[S:%s] Removed %d record(s) of message %s", serverID, len(removed), messageID)
	return removed, nil
}

// Clear wipes one channel partition, or the whole store when channelID is
// empty. A backup is taken first when backups are enabled; a failed backup
// aborts the clear.
func (a *Admin) Clear(serverID, channelID string) (ClearResult, error) {
	var res ClearResult
	policy := a.policies.Ensure(serverID)
	if channelID != "" && policy.Scope != models.ScopeChannel {
		return res, ErrScopeMismatch
	}

	if a.backups != nil && a.backups.Enabled() {
		if err := a.backups.Snapshot(serverID); err != nil {
			return res, fmt.Errorf("backup before clear: %w", err)
		}
		res.BackedUp = true
	}

	saved := a.repo.WithLock(serverID, func(store *models.FingerprintStore) bool {
		if channelID != "" {
			res.Removed = store.ClearChannel(channelID)
		} else {
			res.Removed = store.Clear()
		}
		return res.Removed > 0
	})
	if !saved {
		return res, storage.ErrSaveFailed
	}
	a.logger.Infof(providers.TypeAdmin, "[S:%s] Cleared %d record(s) (channel=%q, backup=%t)", serverID, res.Removed, channelID, res.BackedUp)
	return res, nil
}

// ClearFlags removes the bot's reaction from up to limit recent messages of
// a channel. A missing permission ends the run.
func (a *Admin) ClearFlags(ctx context.Context, serverID, channelID string, limit int) (ClearFlagsResult, error) {
	var res ClearFlagsResult
	policy := a.policies.Ensure(serverID)
	limiter := newLimiter(a.clearDelay)

	err := a.client.History(ctx, serverID, channelID, platform.HistoryQuery{Limit: a.reconciler.clampLimit(limit)}, func(msg *models.Message) error {
		res.Checked++
		if !msg.HasOwnReaction(policy.ReactionEmoji) {
			return nil
		}
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		err := a.client.RemoveOwnReaction(ctx, msg.Ref, policy.ReactionEmoji)
		switch {
		case err == nil:
			res.Cleared++
		case errors.Is(err, platform.ErrForbidden):
			res.Stopped = true
			return err
		case errors.Is(err, platform.ErrNotFound):
		default:
			res.Errors++
			a.logger.Warnf(providers.TypeAdmin, "[S:%s] Cannot remove reaction from %s: %s", serverID, msg.Ref.MessageID, err)
		}
		return nil
	})
	a.logger.Infof(providers.TypeAdmin, "[S:%s] Clear flags in %s: checked=%d cleared=%d errors=%d", serverID, channelID, res.Checked, res.Cleared, res.Errors)
	if err != nil && !res.Stopped {
		return res, err
	}
	return res, nil
}

// Records lists a server's stored fingerprints in the active layout. A
// non-empty channelID narrows a channel-scoped listing.
func (a *Admin) Records(serverID, channelID string) []RecordView {
	policy := a.policies.Ensure(serverID)
	store := a.repo.Load(serverID)

	var out []RecordView
	add := func(ch string, part map[string]models.FingerprintRecord) {
		for id, rec := range part {
			out = append(out, RecordView{Identifier: id, ChannelID: ch, Hash: rec.Hash, AuthorID: rec.AuthorID, CreatedAt: rec.CreatedAt})
		}
	}
	if policy.Scope == models.ScopeChannel {
		for ch, part := range store.Channels {
			if channelID == "" || ch == channelID {
				add(ch, part)
			}
		}
	} else {
		add("", store.Flat)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ChannelID != out[j].ChannelID {
			return out[i].ChannelID < out[j].ChannelID
		}
		return out[i].Identifier < out[j].Identifier
	})
	return out
}

// RestoreBackup replaces the server's store with its latest backup.
func (a *Admin) RestoreBackup(serverID string) (int, error) {
	n, err := a.backups.Restore(serverID)
	if err != nil {
		return 0, err
	}
	a.logger.Infof(providers.TypeAdmin, "[S:%s] Restored %d record(s) from backup", serverID, n)
	return n, nil
}

func (a *Admin) Policy(serverID string) models.ServerPolicy {
	return a.policies.Ensure(serverID)
}

func (a *Admin) SetPolicy(serverID, field string, value any) (models.ServerPolicy, error) {
	p, err := a.policies.Set(serverID, field, value)
	if err != nil {
		return p, err
	}
	a.logger.Infof(providers.TypeAdmin, "[S:%s] Policy %s set to %v", serverID, field, value)
	return p, nil
}

// SetChannelMonitored adds channelID to the monitored channels or drops it.
// An empty list means every channel is monitored.
func (a *Admin) SetChannelMonitored(serverID, channelID string, monitored bool) (models.ServerPolicy, error) {
	edit, verb := a.policies.RemoveMonitoredChannel, "no longer monitored"
	if monitored {
		edit, verb = a.policies.AddMonitoredChannel, "monitored"
	}
	p, err := edit(serverID, channelID)
	if err != nil {
		return p, err
	}
	a.logger.Infof(providers.TypeAdmin, "[S:%s] Channel %s %s", serverID, channelID, verb)
	return p, nil
}

// SetUserAllowed adds userID to the users exempt from duplicate checks or
// drops it.
func (a *Admin) SetUserAllowed(serverID, userID string, allowed bool) (models.ServerPolicy, error) {
	edit, verb := a.policies.RemoveAllowedUser, "removed from"
	if allowed {
		edit, verb = a.policies.AddAllowedUser, "added to"
	}
	p, err := edit(serverID, userID)
	if err != nil {
		return p, err
	}
	a.logger.Infof(providers.TypeAdmin, "[S:%s] User %s %s the allowlist", serverID, userID, verb)
	return p, nil
}

// Servers lists every server with a stored policy.
func (a *Admin) Servers() []string {
	return a.policies.Servers()
}

func (a *Admin) Scan(ctx context.Context, req ScanRequest) (ScanReport, error) {
	return a.reconciler.Scan(ctx, req)
}
