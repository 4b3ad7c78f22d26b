package services

import (
	"context"
	"dupguard/internal/models"
	"dupguard/internal/providers"
	"dupguard/internal/storage"
	"sync"
	"time"
)

// Bot receives platform events and routes them to the detection services.
type Bot struct {
	detector   *Detector
	reconciler *Reconciler
	policies   *storage.PolicyRepository
	lastSeen   *storage.LastSeenRepository
	logger     providers.Logger

	mu        sync.Mutex
	since     time.Time
	hasSince  bool
	caughtUp  bool
	catchUpWG sync.WaitGroup
}

func NewBot(detector *Detector, reconciler *Reconciler, policies *storage.PolicyRepository, lastSeen *storage.LastSeenRepository, logger providers.Logger) *Bot {
	return &Bot{
		detector:   detector,
		reconciler: reconciler,
		policies:   policies,
		lastSeen:   lastSeen,
		logger:     logger,
	}
}

// Prime reads the previous run's marker and records the current startup.
// It must run before the checkpoint job first overwrites the marker.
func (b *Bot) Prime(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.since, b.hasSince = b.lastSeen.Load()
	if b.hasSince {
		b.logger.Infof(providers.TypeApp, "Previous run last seen at %s", b.since.Format(time.RFC3339))
	} else {
		b.logger.Infof(providers.TypeApp, "No previous run marker, catch-up disabled for this start")
	}
	if err := b.lastSeen.Save(now); err != nil {
		b.logger.Errorf(providers.TypeApp, "Cannot save startup marker: %s", err)
	}
}

// OnReady ensures every server has a policy, then catches up once per
// process on messages missed since the previous run.
func (b *Bot) OnReady(ctx context.Context, serverIDs []string) {
	for _, id := range serverIDs {
		b.policies.Ensure(id)
	}
	b.logger.Infof(providers.TypeApp, "Ready on %d server(s)", len(serverIDs))

	b.mu.Lock()
	run := b.hasSince && !b.caughtUp
	b.caughtUp = true
	since := b.since
	b.mu.Unlock()
	if !run {
		return
	}

	b.catchUpWG.Add(1)
	go func() {
		defer b.catchUpWG.Done()
		b.reconciler.CatchUp(ctx, since, serverIDs)
	}()
}

func (b *Bot) OnServerJoin(_ context.Context, serverID string) {
	b.policies.Ensure(serverID)
	b.logger.Infof(providers.TypeApp, "Joined server %s", serverID)
}

func (b *Bot) OnMessage(ctx context.Context, msg *models.Message) {
	b.detector.HandleMessage(ctx, msg)
}

// Wait blocks until a running catch-up returns.
func (b *Bot) Wait() {
	b.catchUpWG.Wait()
}
