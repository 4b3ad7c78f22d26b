package services

import (
	"dupguard/internal/hashing"
	"dupguard/internal/models"
	"dupguard/internal/providers"
	"sort"
	"time"
)

// Matcher looks up stored records near a fingerprint.
type Matcher struct {
	logger providers.Logger
	now    func() time.Time
}

func NewMatcher(logger providers.Logger) *Matcher {
	return &Matcher{logger: logger, now: time.Now}
}

// FindMatches returns every record of the scope's partition within the
// policy threshold, closest first. Records outside the retention window and
// records whose hash cannot be read are left out. Records without a
// timestamp are always inside the window.
func (m *Matcher) FindMatches(fp hashing.Fingerprint, store *models.FingerprintStore, policy models.ServerPolicy, channelID string) []models.Match {
	pool := store.Partition(policy.Scope, channelID)
	if len(pool) == 0 {
		return nil
	}

	var cutoff time.Time
	if policy.RetentionDays > 0 {
		cutoff = m.now().UTC().Add(-time.Duration(policy.RetentionDays) * 24 * time.Hour)
	}

	matches := make([]models.Match, 0)
	for id, rec := range pool {
		if !cutoff.IsZero() && rec.HasTimestamp() && rec.CreatedAt.Before(cutoff) {
			continue
		}
		d, ok := m.distance(fp, id, rec)
		if !ok || d > policy.SimilarityThreshold {
			continue
		}
		match := models.Match{
			Identifier: id,
			Distance:   d,
			AuthorID:   rec.AuthorID,
			CreatedAt:  rec.CreatedAt,
		}
		if key, err := models.ParseRecordKey(id); err == nil {
			match.SourceMessageID = key.MessageID
		}
		matches = append(matches, match)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].Identifier < matches[j].Identifier
	})
	return matches
}

// FindFirstExisting probes the scope's partition for a record within
// threshold, ignoring retention. The closest record wins, ties by identifier.
func (m *Matcher) FindFirstExisting(fp hashing.Fingerprint, store *models.FingerprintStore, threshold int, scope models.Scope, channelID string) (string, models.FingerprintRecord, bool) {
	var (
		bestID   string
		bestRec  models.FingerprintRecord
		bestDist = -1
	)
	for id, rec := range store.Partition(scope, channelID) {
		d, ok := m.distance(fp, id, rec)
		if !ok || d > threshold {
			continue
		}
		if bestDist < 0 || d < bestDist || (d == bestDist && id < bestID) {
			bestID, bestRec, bestDist = id, rec, d
		}
	}
	return bestID, bestRec, bestDist >= 0
}

// StoredRecord is a record of the store together with its identifier.
type StoredRecord struct {
	ID     string
	Record models.FingerprintRecord
}

// FindEqual returns every record of the scope's partition whose hash equals
// fp, oldest first. Undated records sort after dated ones.
func (m *Matcher) FindEqual(fp hashing.Fingerprint, store *models.FingerprintStore, scope models.Scope, channelID string) []StoredRecord {
	var group []StoredRecord
	for id, rec := range store.Partition(scope, channelID) {
		if d, ok := m.distance(fp, id, rec); ok && d == 0 {
			group = append(group, StoredRecord{ID: id, Record: rec})
		}
	}
	sort.Slice(group, func(i, j int) bool {
		a, b := group[i].Record, group[j].Record
		if a.HasTimestamp() != b.HasTimestamp() {
			return a.HasTimestamp()
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return group[i].ID < group[j].ID
	})
	return group
}

func (m *Matcher) distance(fp hashing.Fingerprint, id string, rec models.FingerprintRecord) (int, bool) {
	stored, err := hashing.ParseFingerprint(rec.Hash)
	if err != nil {
		m.logger.Debugf(providers.TypeDetect, "Skipping record %s: %s", id, err)
		return 0, false
	}
	d, err := hashing.Distance(fp, stored)
	if err != nil {
		m.logger.Debugf(providers.TypeDetect, "Skipping record %s: %s", id, err)
		return 0, false
	}
	return d, true
}
