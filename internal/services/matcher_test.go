package services

import (
	"dupguard/internal/hashing"
	"dupguard/internal/models"
	"dupguard/internal/testutil"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustFP(t *testing.T, hex string) hashing.Fingerprint {
	t.Helper()
	fp, err := hashing.ParseFingerprint(hex)
	require.NoError(t, err)
	return fp
}

func newFixedMatcher(now time.Time) *Matcher {
	m := NewMatcher(&testutil.MockLogger{})
	m.now = func() time.Time { return now }
	return m
}

func TestMatcher_ThresholdAndOrder(t *testing.T) {
	store := models.NewFingerprintStore()
	_ = store.Put(models.ScopeServer, "", "3-far.png", models.LegacyRecord(hashB))
	_ = store.Put(models.ScopeServer, "", "2-near.png", models.NewRecord(hashANear, "u2", t0))
	_ = store.Put(models.ScopeServer, "", "1-same.png", models.NewRecord(hashA, "u1", t0))

	p := models.DefaultPolicy(srv)
	matches := newFixedMatcher(t0).FindMatches(mustFP(t, hashA), store, p, chanA)

	require.Len(t, matches, 2)
	assert.Equal(t, "1-same.png", matches[0].Identifier)
	assert.Zero(t, matches[0].Distance)
	assert.Equal(t, "1", matches[0].SourceMessageID)
	assert.Equal(t, "u1", matches[0].AuthorID)
	assert.Equal(t, 1, matches[1].Distance)

	p.SimilarityThreshold = 0
	matches = newFixedMatcher(t0).FindMatches(mustFP(t, hashANear), store, p, chanA)
	require.Len(t, matches, 1)
	assert.Equal(t, "2-near.png", matches[0].Identifier)
}

func TestMatcher_TiesBrokenByIdentifier(t *testing.T) {
	store := models.NewFingerprintStore()
	_ = store.Put(models.ScopeServer, "", "9-b.png", models.LegacyRecord(hashA))
	_ = store.Put(models.ScopeServer, "", "10-a.png", models.LegacyRecord(hashA))

	matches := newFixedMatcher(t0).FindMatches(mustFP(t, hashA), store, models.DefaultPolicy(srv), chanA)
	require.Len(t, matches, 2)
	assert.Equal(t, "10-a.png", matches[0].Identifier)

	id, _, ok := newFixedMatcher(t0).FindFirstExisting(mustFP(t, hashA), store, 0, models.ScopeServer, "")
	require.True(t, ok)
	assert.Equal(t, "10-a.png", id)
}

func TestMatcher_FindEqualOrdersOldestFirst(t *testing.T) {
	store := models.NewFingerprintStore()
	_ = store.Put(models.ScopeServer, "", "1-legacy.png", models.LegacyRecord(hashA))
	_ = store.Put(models.ScopeServer, "", "9-late.png", models.NewRecord(hashA, "u2", t0.Add(time.Hour)))
	_ = store.Put(models.ScopeServer, "", "8-early.png", models.NewRecord(hashA, "u1", t0))
	_ = store.Put(models.ScopeServer, "", "7-near.png", models.NewRecord(hashANear, "u3", t0.Add(-time.Hour)))

	group := newFixedMatcher(t0).FindEqual(mustFP(t, hashA), store, models.ScopeServer, "")
	ids := make([]string, 0, len(group))
	for _, g := range group {
		ids = append(ids, g.ID)
	}
	assert.Equal(t, []string{"8-early.png", "9-late.png", "1-legacy.png"}, ids)
}

func TestMatcher_ChannelScopeOnlySeesItsPartition(t *testing.T) {
	store := models.NewFingerprintStore()
	_ = store.Put(models.ScopeChannel, chanB, "1-a.png", models.LegacyRecord(hashA))
	_ = store.Put(models.ScopeServer, "", "2-a.png", models.LegacyRecord(hashA))

	p := models.DefaultPolicy(srv)
	p.Scope = models.ScopeChannel
	m := newFixedMatcher(t0)

	assert.Empty(t, m.FindMatches(mustFP(t, hashA), store, p, chanA))
	matches := m.FindMatches(mustFP(t, hashA), store, p, chanB)
	require.Len(t, matches, 1)
	assert.Equal(t, "1-a.png", matches[0].Identifier)
}

func TestMatcher_RetentionWindow(t *testing.T) {
	now := t0.Add(30 * 24 * time.Hour)
	store := models.NewFingerprintStore()
	_ = store.Put(models.ScopeServer, "", "1-old.png", models.NewRecord(hashA, "u", t0))
	_ = store.Put(models.ScopeServer, "", "2-recent.png", models.NewRecord(hashA, "u", now.Add(-24*time.Hour)))
	_ = store.Put(models.ScopeServer, "", "3-undated.png", models.LegacyRecord(hashA))

	p := models.DefaultPolicy(srv)
	p.RetentionDays = 7
	matches := newFixedMatcher(now).FindMatches(mustFP(t, hashA), store, p, chanA)

	var ids []string
	for _, m := range matches {
		ids = append(ids, m.Identifier)
	}
	assert.Equal(t, []string{"2-recent.png", "3-undated.png"}, ids)

	p.RetentionDays = 0
	assert.Len(t, newFixedMatcher(now).FindMatches(mustFP(t, hashA), store, p, chanA), 3)
}

func TestMatcher_SkipsUnreadableRecords(t *testing.T) {
	store := models.NewFingerprintStore()
	_ = store.Put(models.ScopeServer, "", "1-bad.png", models.LegacyRecord("not hex"))
	_ = store.Put(models.ScopeServer, "", "2-wide.png", models.LegacyRecord(hashA+hashA+hashA+hashA))
	_ = store.Put(models.ScopeServer, "", "3-ok.png", models.LegacyRecord(hashA))

	matches := newFixedMatcher(t0).FindMatches(mustFP(t, hashA), store, models.DefaultPolicy(srv), chanA)
	require.Len(t, matches, 1)
	assert.Equal(t, "3-ok.png", matches[0].Identifier)
}

func TestDecide(t *testing.T) {
	matches := []models.Match{
		{Identifier: "1-a.png", Distance: 0, AuthorID: "alice"},
		{Identifier: "2-b.png", Distance: 2, AuthorID: "bob"},
	}

	d := Decide(matches, models.ModeStrict, "alice")
	require.Equal(t, models.VerdictViolation, d.Verdict)
	assert.Equal(t, "1-a.png", d.Match.Identifier)

	d = Decide(matches, models.ModeOwnerAllowed, "alice")
	require.Equal(t, models.VerdictViolation, d.Verdict)
	assert.Equal(t, "2-b.png", d.Match.Identifier)

	d = Decide(matches[:1], models.ModeOwnerAllowed, "alice")
	assert.Equal(t, models.VerdictUnique, d.Verdict)
	assert.Nil(t, d.Match)

	assert.Equal(t, models.VerdictUnique, Decide(nil, models.ModeStrict, "alice").Verdict)
}

func TestIsViolationAgainst(t *testing.T) {
	assert.True(t, IsViolationAgainst("a", "a", models.ModeStrict))
	assert.False(t, IsViolationAgainst("a", "a", models.ModeOwnerAllowed))
	assert.True(t, IsViolationAgainst("a", "b", models.ModeOwnerAllowed))
	assert.True(t, IsViolationAgainst("", "b", models.ModeOwnerAllowed))
	assert.True(t, IsViolationAgainst("a", "a", models.CheckMode("unknown")))
}

func TestRenderReply(t *testing.T) {
	f := ReplyFields{
		Mention:             "<@2>",
		Filename:            "cat.png",
		Identifier:          "1-cat.png",
		Distance:            3,
		OriginalUserMention: "<@1>",
		Emoji:               "⚠️",
		OriginalUserInfo:    ", Orig User: <@1>",
		JumpLink:            "\nOriginal: https://x",
	}

	got := RenderReply(models.DefaultReplyTemplate, f)
	assert.Equal(t, "⚠️ Hold on, <@2>! Image `cat.png` similar to recent submission (ID: `1-cat.png`, Dist: 3, Orig User: <@1>).\nOriginal: https://x", got)

	assert.Equal(t, "{literal} 3", RenderReply("{{literal}} {distance}", f))
	assert.Equal(t, "[]", RenderReply("[{nope}]", f))
	assert.Equal(t, "3 and {unclosed", RenderReply("{distance:>4} and {unclosed", f))
	assert.Equal(t, "by <@1>", RenderReply("by { original_user_mention }", f))
}
