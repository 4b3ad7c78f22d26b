package testutil

import (
	"context"
	"dupguard/internal/hashing"
	"dupguard/internal/models"
	"dupguard/internal/platform"
	"dupguard/internal/providers"
	"dupguard/internal/structures"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MockLogger implements providers.Logger and records calls.
type MockLogger struct {
	mu   sync.Mutex
	Logs []LogEntry
}

type LogEntry struct {
	Level  string
	Type   providers.TypeEnum
	Format string
	Args   []interface{}
}

func (m *MockLogger) record(level string, t providers.TypeEnum, format string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Logs = append(m.Logs, LogEntry{Level: level, Type: t, Format: format, Args: args})
}

func (m *MockLogger) Errorf(t providers.TypeEnum, format string, args ...interface{}) {
	m.record("error", t, format, args...)
}
func (m *MockLogger) Warnf(t providers.TypeEnum, format string, args ...interface{}) {
	m.record("warn", t, format, args...)
}
func (m *MockLogger) Debugf(t providers.TypeEnum, format string, args ...interface{}) {
	m.record("debug", t, format, args...)
}
func (m *MockLogger) Infof(t providers.TypeEnum, format string, args ...interface{}) {
	m.record("info", t, format, args...)
}
func (m *MockLogger) Fatalf(t providers.TypeEnum, format string, args ...interface{}) {
	m.record("fatal", t, format, args...)
}
func (m *MockLogger) Close() {}

// Count returns how many records were logged at level.
func (m *MockLogger) Count(level string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, l := range m.Logs {
		if l.Level == level {
			n++
		}
	}
	return n
}

// MockMetrics implements providers.MetricsProviderInterface with counters
// keyed by "name:label:label".
type MockMetrics struct {
	mu       sync.Mutex
	Counters map[string]int
	Records  map[string]int
}

func NewMockMetrics() *MockMetrics {
	return &MockMetrics{Counters: make(map[string]int), Records: make(map[string]int)}
}

func (m *MockMetrics) inc(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Counters[key]++
}

func (m *MockMetrics) Get(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Counters[key]
}

func (m *MockMetrics) IncRequestsTotal(endpoint string, status int) {
	m.inc(fmt.Sprintf("requests:%s:%d", endpoint, status))
}
func (m *MockMetrics) ObserveRequestDuration(_ string, _ time.Duration) {}
func (m *MockMetrics) IncCacheHits()                                    { m.inc("cache:hit") }
func (m *MockMetrics) IncCacheMisses()                                  { m.inc("cache:miss") }
func (m *MockMetrics) ObservePersistenceDuration(_ time.Duration)       {}
func (m *MockMetrics) SetRecordsTotal(server string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Records[server] = count
}
func (m *MockMetrics) ObserveHashDuration(_ time.Duration) { m.inc("hash") }
func (m *MockMetrics) IncImagesProcessed(source, verdict string) {
	m.inc("images:" + source + ":" + verdict)
}
func (m *MockMetrics) IncActions(action, outcome string) { m.inc("actions:" + action + ":" + outcome) }
func (m *MockMetrics) IncScans(kind, outcome string)     { m.inc("scans:" + kind + ":" + outcome) }

// MockCache is a map-backed providers.CacheProviderInterface.
type MockCache struct {
	mu   sync.Mutex
	Data map[string][]byte
}

func NewMockCache() *MockCache { return &MockCache{Data: make(map[string][]byte)} }

func (c *MockCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.Data[key]
	return v, ok
}

func (c *MockCache) Set(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Data[key] = value
}

// MockCompressor passes data through unchanged.
type MockCompressor struct {
	Err    error
	Closed bool
}

func (m *MockCompressor) Compress(val []byte) ([]byte, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return append([]byte(nil), val...), nil
}
func (m *MockCompressor) Decompress(val []byte) ([]byte, error) { return m.Compress(val) }
func (m *MockCompressor) Close()                                { m.Closed = true }

// FakeHasher returns preset fingerprints keyed by attachment id.
type FakeHasher struct {
	mu     sync.Mutex
	Hashes map[string]string
	Errors map[string]error
	Calls  int
}

func NewFakeHasher() *FakeHasher {
	return &FakeHasher{Hashes: make(map[string]string), Errors: make(map[string]error)}
}

func (h *FakeHasher) Set(attachmentID, hex string) *FakeHasher {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Hashes[attachmentID] = hex
	return h
}

func (h *FakeHasher) Fingerprint(_ context.Context, att models.Attachment, _ int) (hashing.Fingerprint, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Calls++
	if err, ok := h.Errors[att.ID]; ok {
		return hashing.Fingerprint{}, err
	}
	hex, ok := h.Hashes[att.ID]
	if !ok {
		return hashing.Fingerprint{}, fmt.Errorf("%w: no preset hash for %s", hashing.ErrUndecodable, att.ID)
	}
	return hashing.ParseFingerprint(hex)
}

// Image builds an image attachment whose id is also its fake hash key.
func Image(id, filename string) models.Attachment {
	return models.Attachment{ID: id, Filename: filename, ContentType: "image/png", URL: "https://cdn.test/" + id}
}

// PlatformCall is one recorded outbound call.
type PlatformCall struct {
	Ref     models.MessageRef
	Content string
	Audit   models.AuditEntry
}

// MockPlatform is an in-memory platform.Client and platform.Source.
type MockPlatform struct {
	mu sync.Mutex

	// Messages per channel id, in posting order.
	Messages map[string][]*models.Message
	Channels map[string][]string

	// Errors per action kind: reply, react, unreact, delete, audit, history,
	// channels.
	Errors map[string]error
	// HistoryHook runs before each delivered message.
	HistoryHook func(n int)

	Replies   []PlatformCall
	Reactions []PlatformCall
	Unreacts  []PlatformCall
	Deletes   []PlatformCall
	Audits    []PlatformCall
	Queries   []platform.HistoryQuery

	Started bool
	Stopped bool
	Handler platform.Handler
}

func NewMockPlatform() *MockPlatform {
	return &MockPlatform{
		Messages: make(map[string][]*models.Message),
		Channels: make(map[string][]string),
		Errors:   make(map[string]error),
	}
}

// Post appends msg to its channel history.
func (p *MockPlatform) Post(msg *models.Message) *models.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Messages[msg.Ref.ChannelID] = append(p.Messages[msg.Ref.ChannelID], msg)
	return msg
}

func (p *MockPlatform) Name() string { return "mock" }

func (p *MockPlatform) record(kind string, list *[]PlatformCall, c PlatformCall) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.Errors[kind]; err != nil {
		return err
	}
	*list = append(*list, c)
	return nil
}

func (p *MockPlatform) Reply(_ context.Context, ref models.MessageRef, content string) error {
	return p.record("reply", &p.Replies, PlatformCall{Ref: ref, Content: content})
}

func (p *MockPlatform) AddReaction(_ context.Context, ref models.MessageRef, emoji string) error {
	return p.record("react", &p.Reactions, PlatformCall{Ref: ref, Content: emoji})
}

func (p *MockPlatform) RemoveOwnReaction(_ context.Context, ref models.MessageRef, emoji string) error {
	return p.record("unreact", &p.Unreacts, PlatformCall{Ref: ref, Content: emoji})
}

func (p *MockPlatform) DeleteMessage(_ context.Context, ref models.MessageRef) error {
	return p.record("delete", &p.Deletes, PlatformCall{Ref: ref})
}

func (p *MockPlatform) SendAudit(_ context.Context, channelID string, entry models.AuditEntry) error {
	return p.record("audit", &p.Audits, PlatformCall{Ref: models.MessageRef{ChannelID: channelID}, Audit: entry})
}

func (p *MockPlatform) History(ctx context.Context, _, channelID string, q platform.HistoryQuery, fn func(*models.Message) error) error {
	p.mu.Lock()
	if err := p.Errors["history"]; err != nil {
		p.mu.Unlock()
		return err
	}
	p.Queries = append(p.Queries, q)
	all := append([]*models.Message(nil), p.Messages[channelID]...)
	hook := p.HistoryHook
	p.mu.Unlock()

	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	var picked []*models.Message
	for _, m := range all {
		if q.After.IsZero() || m.CreatedAt.After(q.After) {
			picked = append(picked, m)
		}
	}
	if q.OldestFirst {
		if len(picked) > q.Limit {
			picked = picked[:q.Limit]
		}
	} else {
		for i, j := 0, len(picked)-1; i < j; i, j = i+1, j-1 {
			picked[i], picked[j] = picked[j], picked[i]
		}
		if len(picked) > q.Limit {
			picked = picked[:q.Limit]
		}
	}
	for i, m := range picked {
		if hook != nil {
			hook(i + 1)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}

func (p *MockPlatform) ReadableChannels(_ context.Context, serverID string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.Errors["channels"]; err != nil {
		return nil, err
	}
	return p.Channels[serverID], nil
}

func (p *MockPlatform) Mention(userID string) string { return "<@" + userID + ">" }

func (p *MockPlatform) JumpLink(ref models.MessageRef) string {
	return "https://chat.test/" + ref.ServerID + "/" + ref.ChannelID + "/" + ref.MessageID
}

func (p *MockPlatform) Start(_ context.Context, h platform.Handler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Started = true
	p.Handler = h
	return p.Errors["start"]
}

func (p *MockPlatform) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Stopped = true
	return nil
}

// TestConfig is a config rooted in dir with small, fast settings.
func TestConfig(dir string) *structures.Config {
	return &structures.Config{
		AppName: "DupGuard",
		Storage: structures.StorageConfig{
			DataDir:      dir,
			PolicyFile:   "server_configs.json",
			LastSeenFile: "last_seen.json",
		},
		Hashing: structures.HashingConfig{Workers: 2, MaxImageBytes: 1 << 20, DownloadTimeout: 5 * time.Second},
		Scan: structures.ScanConfig{
			DefaultLimit:  100,
			MaxLimit:      500,
			ProgressEvery: 10,
		},
		Checkpoint: structures.CheckpointConfig{Schedule: "@every 1m"},
	}
}
