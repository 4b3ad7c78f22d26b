package models

import (
	"context"
	"slices"
	"strings"
	"time"
)

type MessageRef struct {
	ServerID  string
	ChannelID string
	MessageID string
}

type Attachment struct {
	ID          string
	Filename    string
	ContentType string
	URL         string
	Size        int64
	Fetch       func(ctx context.Context) ([]byte, error)
}

func (a Attachment) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(a.ContentType), "image/")
}

// Message is the platform-neutral view of a chat message.
type Message struct {
	Ref          MessageRef
	AuthorID     string
	AuthorIsBot  bool
	CreatedAt    time.Time
	Attachments  []Attachment
	OwnReactions []string
}

func (m *Message) HasOwnReaction(emoji string) bool {
	return slices.Contains(m.OwnReactions, emoji)
}

func (m *Message) Images() []Attachment {
	out := make([]Attachment, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		if a.IsImage() {
			out = append(out, a)
		}
	}
	return out
}

// AuditEntry is what gets posted to a server's log channel. Rendering is up
// to the platform adapter.
type AuditEntry struct {
	Title            string
	Ref              MessageRef
	AuthorID         string
	Hash             string
	MatchIdentifier  string
	Distance         int
	OriginalAuthorID string
	MessageLink      string
	OriginalLink     string
	ThumbnailURL     string
	Footer           string
	At               time.Time
}
