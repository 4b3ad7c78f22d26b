package services

import (
	"dupguard/internal/models"
	"dupguard/internal/storage"
	"dupguard/internal/structures"
	"dupguard/internal/testutil"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	srv   = "1"
	chanA = "10"
	chanB = "11"

	hashA     = "00000000000000ff"
	hashANear = "00000000000000fe"
	hashB     = "ffffffffffff0000"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	dir        string
	conf       *structures.Config
	logger     *testutil.MockLogger
	metrics    *testutil.MockMetrics
	client     *testutil.MockPlatform
	hasher     *testutil.FakeHasher
	files      *storage.FileManager
	policies   *storage.PolicyRepository
	repo       *storage.FingerprintRepository
	matcher    *Matcher
	responder  *Responder
	detector   *Detector
	reconciler *Reconciler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	e := &testEnv{
		dir:     dir,
		conf:    testutil.TestConfig(dir),
		logger:  &testutil.MockLogger{},
		metrics: testutil.NewMockMetrics(),
		client:  testutil.NewMockPlatform(),
		hasher:  testutil.NewFakeHasher(),
	}
	e.files = storage.NewFileManager(e.logger)
	e.policies = storage.NewPolicyRepository(e.conf, e.files, e.logger)
	require.NoError(t, e.policies.Restore())
	e.repo = storage.NewFingerprintRepository(e.conf, e.files, e.logger, e.metrics)
	e.matcher = NewMatcher(e.logger)
	e.responder = NewResponder(e.client, e.logger, e.metrics)
	e.detector = NewDetector(e.policies, e.repo, e.hasher, e.matcher, e.responder, e.logger, e.metrics)
	e.reconciler = NewReconciler(e.conf, e.client, e.policies, e.repo, e.hasher, e.matcher, e.responder, e.logger, e.metrics)
	return e
}

func (e *testEnv) policy(t *testing.T, fn func(p *models.ServerPolicy)) models.ServerPolicy {
	t.Helper()
	p, err := e.policies.Update(srv, func(p *models.ServerPolicy) error {
		fn(p)
		return nil
	})
	require.NoError(t, err)
	return p
}

// image registers a fake hash for attachment id and returns the attachment.
func (e *testEnv) image(id, hash string) models.Attachment {
	e.hasher.Set(id, hash)
	return testutil.Image(id, id+".png")
}

func (e *testEnv) store() *models.FingerprintStore {
	return e.repo.Load(srv)
}

func message(channelID, messageID, authorID string, at time.Time, atts ...models.Attachment) *models.Message {
	return &models.Message{
		Ref:         models.MessageRef{ServerID: srv, ChannelID: channelID, MessageID: messageID},
		AuthorID:    authorID,
		CreatedAt:   at,
		Attachments: atts,
	}
}

func key(messageID, attID string) string {
	return models.RecordKey{MessageID: messageID, Filename: attID + ".png"}.String()
}
