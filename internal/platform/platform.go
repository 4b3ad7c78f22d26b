package platform

import (
	"context"
	"dupguard/internal/models"
	"dupguard/internal/providers"
	"dupguard/internal/structures"
	"errors"
	"time"
)

var (
	ErrForbidden   = errors.New("platform: missing permission")
	ErrNotFound    = errors.New("platform: not found")
	ErrUnsupported = errors.New("platform: operation not supported")
)

// HistoryQuery bounds a history fetch. Limit is mandatory; After is optional.
// OldestFirst delivers messages in chronological order.
type HistoryQuery struct {
	Limit       int
	After       time.Time
	OldestFirst bool
}

// Client is everything the detection core asks of a chat platform.
type Client interface {
	Name() string
	Reply(ctx context.Context, ref models.MessageRef, content string) error
	AddReaction(ctx context.Context, ref models.MessageRef, emoji string) error
	RemoveOwnReaction(ctx context.Context, ref models.MessageRef, emoji string) error
	DeleteMessage(ctx context.Context, ref models.MessageRef) error
	SendAudit(ctx context.Context, channelID string, entry models.AuditEntry) error
	// History streams up to q.Limit messages of a channel to fn. Returning an
	// error from fn stops the walk and is returned as is.
	History(ctx context.Context, serverID, channelID string, q HistoryQuery, fn func(*models.Message) error) error
	// ReadableChannels lists the text channels whose history can be read.
	ReadableChannels(ctx context.Context, serverID string) ([]string, error)
	Mention(userID string) string
	JumpLink(ref models.MessageRef) string
}

// Handler receives platform events. Implementations must not block for long;
// the adapters dispatch each event on its own goroutine.
type Handler interface {
	OnReady(ctx context.Context, serverIDs []string)
	OnServerJoin(ctx context.Context, serverID string)
	OnMessage(ctx context.Context, msg *models.Message)
}

type Source interface {
	Client
	Start(ctx context.Context, h Handler) error
	Stop() error
}

// NewSource builds the adapter for the one enabled platform.
func NewSource(conf *structures.Config, logger providers.Logger) (Source, error) {
	switch {
	case conf.Discord.Enabled && conf.Telegram.Enabled:
		return nil, errors.New("enable exactly one platform, not both discord and telegram")
	case conf.Discord.Enabled:
		return NewDiscord(conf, logger)
	case conf.Telegram.Enabled:
		return NewTelegram(conf, logger)
	default:
		return nil, errors.New("no platform enabled: set discord.enabled or telegram.enabled")
	}
}

// ClientOf exposes a source through the narrower Client interface.
func ClientOf(s Source) Client {
	return s
}
