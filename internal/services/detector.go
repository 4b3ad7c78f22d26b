package services

import (
	"context"
	"dupguard/internal/hashing"
	"dupguard/internal/models"
	"dupguard/internal/providers"
	"dupguard/internal/storage"
	"errors"
	"time"
)

// Outcome summarizes what the live path did with one message.
type Outcome struct {
	Images     int
	Inserted   []string
	Violations []*models.Violation
	Skipped    int
	SaveFailed bool
}

type hashedImage struct {
	att models.Attachment
	fp  hashing.Fingerprint
}

// Detector is the live path for newly posted messages.
type Detector struct {
	policies  *storage.PolicyRepository
	repo      *storage.FingerprintRepository
	hasher    hashing.Hasher
	matcher   *Matcher
	responder *Responder
	logger    providers.Logger
	metrics   providers.MetricsProviderInterface
	now       func() time.Time
}

func NewDetector(policies *storage.PolicyRepository, repo *storage.FingerprintRepository, hasher hashing.Hasher, matcher *Matcher, responder *Responder, logger providers.Logger, metrics providers.MetricsProviderInterface) *Detector {
	return &Detector{
		policies:  policies,
		repo:      repo,
		hasher:    hasher,
		matcher:   matcher,
		responder: responder,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// HandleMessage hashes the message's images, then decides and records them
// while holding the server's store lock, so two concurrent posts of the same
// image cannot both be accepted. Responses run after the lock is released.
func (d *Detector) HandleMessage(ctx context.Context, msg *models.Message) Outcome {
	var out Outcome
	if msg == nil || msg.AuthorIsBot || msg.Ref.ServerID == "" {
		return out
	}

	policy := d.policies.Ensure(msg.Ref.ServerID)
	if policy.Exempt(msg.AuthorID) || !policy.Monitors(msg.Ref.ChannelID) {
		return out
	}

	images := msg.Images()
	if len(images) == 0 {
		return out
	}

	hashed := make([]hashedImage, 0, len(images))
	for _, att := range images {
		out.Images++
		fp, err := d.hasher.Fingerprint(ctx, att, policy.HashSize)
		if err != nil {
			out.Skipped++
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				d.logger.Warnf(providers.TypeDetect, "[S:%s] Hashing of %s (msg %s) interrupted: %s", msg.Ref.ServerID, att.Filename, msg.Ref.MessageID, err)
				continue
			}
			d.logger.Debugf(providers.TypeDetect, "[S:%s] Could not hash %s (msg %s): %s", msg.Ref.ServerID, att.Filename, msg.Ref.MessageID, err)
			continue
		}
		hashed = append(hashed, hashedImage{att: att, fp: fp})
	}
	if len(hashed) == 0 {
		return out
	}

	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = d.now()
	}

	type pending struct {
		att models.Attachment
		v   *models.Violation
	}
	var violations []pending

	saved := d.repo.WithLock(msg.Ref.ServerID, func(store *models.FingerprintStore) bool {
		changed := false
		for _, img := range hashed {
			hash := img.fp.String()
			matches := d.matcher.FindMatches(img.fp, store, policy, msg.Ref.ChannelID)
			decision := Decide(matches, policy.CheckMode, msg.AuthorID)
			d.metrics.IncImagesProcessed("live", decision.Verdict.String())

			if v := decision.Violation(hash, msg.Ref.ChannelID); v != nil {
				violations = append(violations, pending{att: img.att, v: v})
				continue
			}

			if id, _, ok := d.matcher.FindFirstExisting(img.fp, store, 0, policy.Scope, msg.Ref.ChannelID); ok {
				d.logger.Debugf(providers.TypeDetect, "[S:%s] %s already stored as %s", msg.Ref.ServerID, img.att.Filename, id)
				continue
			}

			key := models.RecordKey{MessageID: msg.Ref.MessageID, Filename: img.att.Filename}.String()
			if err := store.Put(policy.Scope, msg.Ref.ChannelID, key, models.NewRecord(hash, msg.AuthorID, createdAt)); err != nil {
				d.logger.Errorf(providers.TypeDetect, "[S:%s] Cannot store %s: %s", msg.Ref.ServerID, key, err)
				continue
			}
			out.Inserted = append(out.Inserted, key)
			changed = true
		}
		return changed
	})
	if !saved {
		out.SaveFailed = true
		d.logger.Errorf(providers.TypeDetect, "[S:%s] Failed to save fingerprint store after msg %s", msg.Ref.ServerID, msg.Ref.MessageID)
	}

	actions := PolicyActions(policy)
	notice := Notice{Title: "Duplicate Image Detected", Footer: "Server ID: " + msg.Ref.ServerID}
	deleted := false
	for _, p := range violations {
		out.Violations = append(out.Violations, p.v)
		d.logger.Infof(providers.TypeDetect, "[S:%s] Duplicate %s in msg %s matches %s (distance %d)",
			msg.Ref.ServerID, p.att.Filename, msg.Ref.MessageID, p.v.Identifier, p.v.Distance)

		act := actions
		if deleted {
			act = ActionSet{Log: actions.Log}
		}
		off := Offender{
			Ref:      msg.Ref,
			AuthorID: msg.AuthorID,
			Filename: p.att.Filename,
			ImageURL: p.att.URL,
			Flagged:  msg.HasOwnReaction(policy.ReactionEmoji),
		}
		res := d.responder.Respond(ctx, policy, off, p.v, act, notice, nil)
		if res.Reacted {
			msg.OwnReactions = append(msg.OwnReactions, policy.ReactionEmoji)
		}
		deleted = deleted || res.Deleted
	}
	return out
}
