package services

import (
	"context"
	"dupguard/internal/hashing"
	"dupguard/internal/models"
	"dupguard/internal/platform"
	"dupguard/internal/providers"
	"dupguard/internal/storage"
	"dupguard/internal/structures"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var ErrNoLogChannel = errors.New("logging requested but no log channel is configured")

type ScanRequest struct {
	ServerID    string
	ChannelID   string
	Limit       int
	Actions     ActionSet
	RequestedBy string
	// Progress, when set, is called every few messages while gathering and
	// every few groups while applying actions.
	Progress func(ScanProgress)
}

type ScanProgress struct {
	Phase     string
	Processed int
	Total     int
}

type ScanReport struct {
	RunID      string
	ServerID   string
	ChannelID  string
	Messages   int
	Images     int
	Groups     int
	Added      int
	Updated    int
	Violations int
	Replied    int
	Flagged    int
	Deleted    int
	Logged     int
	Skipped    int
	Errors     int
	Disabled   []ActionKind
	Cancelled  bool
	Saved      bool
	Elapsed    time.Duration
}

func (r ScanReport) String() string {
	return fmt.Sprintf("processed %d messages in %s. Added:%d, Updated:%d, Replied:%d, Flagged:%d, Deleted:%d, Logged:%d. Skipped:%d. Errors:%d.",
		r.Messages, r.Elapsed.Round(10*time.Millisecond), r.Added, r.Updated, r.Replied, r.Flagged, r.Deleted, r.Logged, r.Skipped, r.Errors)
}

type CatchUpReport struct {
	Servers  int
	Channels int
	Messages int
	Images   int
	Added    int
	Updated  int
	Failed   []string
	Elapsed  time.Duration
}

// scannedImage is one image seen in history.
type scannedImage struct {
	hash      string
	fp        hashing.Fingerprint
	channelID string
	messageID string
	authorID  string
	filename  string
	url       string
	createdAt time.Time
	flagged   bool
}

type violationTask struct {
	img scannedImage
	v   *models.Violation
}

type gathered struct {
	messages int
	images   []scannedImage
	skipped  int
	errors   int
}

// Reconciler replays channel history through the hasher and restores the
// oldest-wins invariant of the fingerprint store.
type Reconciler struct {
	conf      *structures.Config
	client    platform.Client
	policies  *storage.PolicyRepository
	repo      *storage.FingerprintRepository
	hasher    hashing.Hasher
	matcher   *Matcher
	responder *Responder
	logger    providers.Logger
	metrics   providers.MetricsProviderInterface
}

func NewReconciler(conf *structures.Config, client platform.Client, policies *storage.PolicyRepository, repo *storage.FingerprintRepository, hasher hashing.Hasher, matcher *Matcher, responder *Responder, logger providers.Logger, metrics providers.MetricsProviderInterface) *Reconciler {
	return &Reconciler{
		conf:      conf,
		client:    client,
		policies:  policies,
		repo:      repo,
		hasher:    hasher,
		matcher:   matcher,
		responder: responder,
		logger:    logger,
		metrics:   metrics,
	}
}

func (r *Reconciler) clampLimit(limit int) int {
	if limit <= 0 {
		return r.conf.Scan.DefaultLimit
	}
	if r.conf.Scan.MaxLimit > 0 && limit > r.conf.Scan.MaxLimit {
		return r.conf.Scan.MaxLimit
	}
	return limit
}

func (r *Reconciler) progressEvery() int {
	return max(r.conf.Scan.ProgressEvery, 1)
}

// Scan reconciles the newest req.Limit messages of one channel. The store is
// saved before any action runs; when ctx is cancelled during gathering the
// images seen so far are still reconciled and saved, and no actions run.
func (r *Reconciler) Scan(ctx context.Context, req ScanRequest) (ScanReport, error) {
	start := time.Now()
	report := ScanReport{RunID: uuid.NewString(), ServerID: req.ServerID, ChannelID: req.ChannelID}
	policy := r.policies.Ensure(req.ServerID)

	if req.Actions.Log && policy.LogChannelID == "" {
		return report, ErrNoLogChannel
	}
	actions := req.Actions
	actions.Reply = actions.Reply && policy.ReplyOnDuplicate
	limit := r.clampLimit(req.Limit)

	r.logger.Infof(providers.TypeScan, "[Scan %s S:%s] Starting: channel=%s limit=%d actions=%+v", report.RunID, req.ServerID, req.ChannelID, limit, actions)

	g, err := r.gather(ctx, policy, req.ServerID, req.ChannelID, platform.HistoryQuery{Limit: limit}, nil, func(n int) {
		if req.Progress != nil && n%r.progressEvery() == 0 {
			req.Progress(ScanProgress{Phase: "gather", Processed: n, Total: limit})
		}
	})
	report.Messages, report.Skipped, report.Errors = g.messages, g.skipped, g.errors
	report.Images = len(g.images)
	if err != nil {
		if !isCancellation(err) {
			r.metrics.IncScans("scan", "failed")
			report.Elapsed = time.Since(start)
			return report, fmt.Errorf("read history of %s: %w", req.ChannelID, err)
		}
		report.Cancelled = true
		r.logger.Warnf(providers.TypeScan, "[Scan %s S:%s] Interrupted after %d messages, reconciling partial results", report.RunID, req.ServerID, g.messages)
	}

	tasks, stats, saved := r.reconcile(policy, req.ServerID, g.images)
	report.Groups, report.Added, report.Updated, report.Saved = stats.groups, stats.added, stats.updated, saved
	report.Violations = len(tasks)
	if !saved {
		r.metrics.IncScans("scan", "failed")
		report.Elapsed = time.Since(start)
		return report, storage.ErrSaveFailed
	}

	if !report.Cancelled && actions.Any() {
		report.Cancelled = r.act(ctx, policy, &report, tasks, actions, req)
	}

	report.Elapsed = time.Since(start)
	outcome := "completed"
	if report.Cancelled {
		outcome = "cancelled"
	}
	r.metrics.IncScans("scan", outcome)
	r.logger.Infof(providers.TypeScan, "[Scan %s S:%s] %s: %s", report.RunID, req.ServerID, outcome, report)
	return report, nil
}

func (r *Reconciler) act(ctx context.Context, policy models.ServerPolicy, report *ScanReport, tasks []violationTask, actions ActionSet, req ScanRequest) bool {
	guard := NewActionGuard()
	limiter := newLimiter(r.conf.Scan.ActionInterval)
	footer := fmt.Sprintf("Scan %s | Server: %s", report.RunID, req.ServerID)
	if req.RequestedBy != "" {
		footer = fmt.Sprintf("Scan by: %s | Server: %s", req.RequestedBy, req.ServerID)
	}
	notice := Notice{Title: "Duplicate Detected (Scan)", Footer: footer}

	defer func() { report.Disabled = guard.Disabled() }()
	for i, t := range tasks {
		if req.Progress != nil && (i+1)%(r.progressEvery()*2) == 0 {
			req.Progress(ScanProgress{Phase: "act", Processed: i + 1, Total: len(tasks)})
		}
		if err := limiter.Wait(ctx); err != nil {
			return true
		}
		off := Offender{
			Ref:      models.MessageRef{ServerID: req.ServerID, ChannelID: t.img.channelID, MessageID: t.img.messageID},
			AuthorID: t.img.authorID,
			Filename: t.img.filename,
			ImageURL: t.img.url,
			Flagged:  t.img.flagged,
		}
		res := r.responder.Respond(ctx, policy, off, t.v, actions, notice, guard)
		if res.Replied {
			report.Replied++
		}
		if res.Reacted {
			report.Flagged++
		}
		if res.Deleted {
			report.Deleted++
		}
		if res.Logged {
			report.Logged++
		}
	}
	return false
}

// CatchUp backfills every server with catch-up enabled from messages posted
// after since. It applies no actions.
func (r *Reconciler) CatchUp(ctx context.Context, since time.Time, serverIDs []string) CatchUpReport {
	start := time.Now()
	var report CatchUpReport
	for _, serverID := range serverIDs {
		if ctx.Err() != nil {
			break
		}
		policy := r.policies.Ensure(serverID)
		if !policy.CatchUpEnabled {
			continue
		}
		report.Servers++

		channels := r.catchUpChannels(ctx, serverID, policy)
		if len(channels) == 0 {
			r.logger.Infof(providers.TypeScan, "[CatchUp S:%s] No channels to scan", serverID)
			continue
		}

		var images []scannedImage
		limiter := newLimiter(r.conf.Scan.CatchUpDelay)
		q := platform.HistoryQuery{Limit: policy.CatchUpLimit, After: since, OldestFirst: true}
		for _, ch := range channels {
			report.Channels++
			g, err := r.gather(ctx, policy, serverID, ch, q, limiter, nil)
			report.Messages += g.messages
			images = append(images, g.images...)
			if err != nil {
				r.logger.Warnf(providers.TypeScan, "[CatchUp S:%s] Channel %s: %s", serverID, ch, err)
			}
		}
		report.Images += len(images)

		_, stats, saved := r.reconcile(policy, serverID, images)
		report.Added += stats.added
		report.Updated += stats.updated
		if !saved {
			report.Failed = append(report.Failed, serverID)
			r.logger.Errorf(providers.TypeScan, "[CatchUp S:%s] Failed to save fingerprint store", serverID)
		}
	}
	report.Elapsed = time.Since(start)
	outcome := "completed"
	if len(report.Failed) > 0 {
		outcome = "failed"
	}
	r.metrics.IncScans("catchup", outcome)
	r.logger.Infof(providers.TypeScan, "Catch-up finished in %s: servers=%d channels=%d messages=%d added=%d updated=%d",
		report.Elapsed.Round(10*time.Millisecond), report.Servers, report.Channels, report.Messages, report.Added, report.Updated)
	return report
}

// catchUpChannels picks the configured channels that are readable, or every
// readable channel when the server monitors all of them.
func (r *Reconciler) catchUpChannels(ctx context.Context, serverID string, policy models.ServerPolicy) []string {
	readable, err := r.client.ReadableChannels(ctx, serverID)
	if err != nil {
		r.logger.Warnf(providers.TypeScan, "[CatchUp S:%s] Cannot list channels: %s", serverID, err)
		if policy.AllowedChannelIDs == nil {
			return nil
		}
		return policy.AllowedChannelIDs
	}
	if policy.AllowedChannelIDs == nil {
		return readable
	}
	ok := make(map[string]bool, len(readable))
	for _, id := range readable {
		ok[id] = true
	}
	var out []string
	for _, id := range policy.AllowedChannelIDs {
		if ok[id] {
			out = append(out, id)
		} else {
			r.logger.Warnf(providers.TypeScan, "[CatchUp S:%s] Configured channel %s is missing or unreadable", serverID, id)
		}
	}
	return out
}

// gather reads history and hashes every image. Per-image failures are
// counted and skipped; the returned error is the history walk's.
func (r *Reconciler) gather(ctx context.Context, policy models.ServerPolicy, serverID, channelID string, q platform.HistoryQuery, limiter *rate.Limiter, tick func(n int)) (gathered, error) {
	var g gathered
	err := r.client.History(ctx, serverID, channelID, q, func(msg *models.Message) error {
		g.messages++
		if tick != nil {
			tick(g.messages)
		}
		if msg.AuthorIsBot {
			return nil
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}
		for _, att := range msg.Images() {
			fp, err := r.hasher.Fingerprint(ctx, att, policy.HashSize)
			if err != nil {
				if isCancellation(err) && ctx.Err() != nil {
					return ctx.Err()
				}
				g.skipped++
				if !errors.Is(err, hashing.ErrUndecodable) {
					g.errors++
				}
				r.logger.Debugf(providers.TypeScan, "[S:%s] Skipping %s (msg %s): %s", serverID, att.Filename, msg.Ref.MessageID, err)
				continue
			}
			g.images = append(g.images, scannedImage{
				hash:      fp.String(),
				fp:        fp,
				channelID: msg.Ref.ChannelID,
				messageID: msg.Ref.MessageID,
				authorID:  msg.AuthorID,
				filename:  att.Filename,
				url:       att.URL,
				createdAt: msg.CreatedAt.UTC(),
				flagged:   msg.HasOwnReaction(policy.ReactionEmoji),
			})
		}
		return nil
	})
	return g, err
}

type reconcileStats struct {
	groups  int
	added   int
	updated int
}

// reconcile applies oldest-wins to the store under the server lock and
// returns the violations found among non-canonical images.
func (r *Reconciler) reconcile(policy models.ServerPolicy, serverID string, images []scannedImage) ([]violationTask, reconcileStats, bool) {
	var stats reconcileStats
	if len(images) == 0 {
		return nil, stats, true
	}

	type groupKey struct{ partition, hash string }
	groups := make(map[groupKey][]scannedImage)
	for _, img := range images {
		k := groupKey{hash: img.hash}
		if policy.Scope == models.ScopeChannel {
			k.partition = img.channelID
		}
		groups[k] = append(groups[k], img)
	}
	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].partition != keys[j].partition {
			return keys[i].partition < keys[j].partition
		}
		return keys[i].hash < keys[j].hash
	})
	stats.groups = len(keys)

	var tasks []violationTask
	saved := r.repo.WithLock(serverID, func(store *models.FingerprintStore) bool {
		changed := false
		for _, k := range keys {
			entries := groups[k]
			sort.SliceStable(entries, func(i, j int) bool {
				if !entries[i].createdAt.Equal(entries[j].createdAt) {
					return entries[i].createdAt.Before(entries[j].createdAt)
				}
				return entries[i].messageID < entries[j].messageID
			})
			oldest := entries[0]
			channelID := oldest.channelID

			canonicalID := models.RecordKey{MessageID: oldest.messageID, Filename: oldest.filename}.String()
			canonical := models.NewRecord(oldest.hash, oldest.authorID, oldest.createdAt)

			// Stored duplicates of the group collapse onto the oldest post,
			// stored or scanned. A stored record posted at the same time as
			// the oldest scanned entry keeps its place.
			stored := r.matcher.FindEqual(oldest.fp, store, policy.Scope, channelID)
			keepStored := len(stored) > 0 && stored[0].Record.HasTimestamp() && !oldest.createdAt.Before(stored[0].Record.CreatedAt)
			if keepStored {
				canonicalID, canonical = stored[0].ID, stored[0].Record
			}
			for _, s := range stored {
				if s.ID != canonicalID {
					changed = store.Remove(policy.Scope, channelID, s.ID) || changed
				}
			}
			switch {
			case len(stored) == 0:
				stats.added++
				changed = r.put(store, policy, channelID, canonicalID, canonical) || changed
			case !keepStored:
				stats.updated++
				changed = r.put(store, policy, channelID, canonicalID, canonical) || changed
			case len(stored) > 1:
				stats.updated++
			}

			canonicalMsg := ""
			if key, err := models.ParseRecordKey(canonicalID); err == nil {
				canonicalMsg = key.MessageID
			}
			for _, e := range entries {
				if e.messageID == canonicalMsg {
					continue
				}
				if !r.violates(policy, canonical, e) {
					continue
				}
				tasks = append(tasks, violationTask{img: e, v: &models.Violation{
					Identifier:        canonicalID,
					Distance:          0,
					OriginalMessageID: canonicalMsg,
					OriginalAuthorID:  canonical.AuthorID,
					OriginalChannelID: channelID,
					Hash:              e.hash,
				}})
			}
		}
		return changed
	})

	for range tasks {
		r.metrics.IncImagesProcessed("scan", models.VerdictViolation.String())
	}
	return tasks, stats, saved
}

func (r *Reconciler) put(store *models.FingerprintStore, policy models.ServerPolicy, channelID, id string, rec models.FingerprintRecord) bool {
	if err := store.Put(policy.Scope, channelID, id, rec); err != nil {
		r.logger.Errorf(providers.TypeScan, "Cannot store %s: %s", id, err)
		return false
	}
	return true
}

// violates applies the check mode against the canonical record, then the
// retention window measured from the canonical post. An entry posted more
// than the window's whole days after the canonical one is allowed.
func (r *Reconciler) violates(policy models.ServerPolicy, canonical models.FingerprintRecord, e scannedImage) bool {
	if !IsViolationAgainst(canonical.AuthorID, e.authorID, policy.CheckMode) {
		return false
	}
	if policy.RetentionDays > 0 && canonical.HasTimestamp() {
		days := int(e.createdAt.Sub(canonical.CreatedAt) / (24 * time.Hour))
		if days > policy.RetentionDays {
			return false
		}
	}
	return true
}

func newLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
