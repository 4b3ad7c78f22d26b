package platform

import (
	"context"
	"dupguard/internal/models"
	"dupguard/internal/providers"
	"dupguard/internal/structures"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	discordName      = "discord"
	discordPageSize  = 100
	discordEpochMs   = 1420070400000
	auditColorOrange = 0xE67E22
)

// Discord adapts a discordgo session. Guilds are servers and text channels
// are channels.
type Discord struct {
	session    *discordgo.Session
	httpClient *http.Client
	logger     providers.Logger

	mu     sync.Mutex
	known  map[string]bool
	ready  bool
	remove []func()
}

func NewDiscord(conf *structures.Config, logger providers.Logger) (*Discord, error) {
	if conf.Discord.Token == "" {
		return nil, fmt.Errorf("discord token is required")
	}
	s, err := discordgo.New("Bot " + conf.Discord.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsMessageContent
	return &Discord{
		session:    s,
		httpClient: &http.Client{Timeout: conf.Hashing.DownloadTimeout},
		logger:     logger,
		known:      make(map[string]bool),
	}, nil
}

func (d *Discord) Name() string { return discordName }

func (d *Discord) Start(ctx context.Context, h Handler) error {
	d.remove = append(d.remove,
		d.session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
			ids := make([]string, 0, len(r.Guilds))
			d.mu.Lock()
			for _, g := range r.Guilds {
				ids = append(ids, g.ID)
				d.known[g.ID] = true
			}
			d.ready = true
			d.mu.Unlock()
			d.logger.Infof(providers.TypePlatform, "[discord] logged in as %s on %d guild(s)", r.User.Username, len(ids))
			go h.OnReady(ctx, ids)
		}),
		d.session.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildCreate) {
			d.mu.Lock()
			isNew := d.ready && !d.known[g.ID]
			d.known[g.ID] = true
			d.mu.Unlock()
			if isNew {
				go h.OnServerJoin(ctx, g.ID)
			}
		}),
		d.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			if msg := d.convert(m.Message); msg != nil {
				go h.OnMessage(ctx, msg)
			}
		}),
	)
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	return nil
}

func (d *Discord) Stop() error {
	for _, rm := range d.remove {
		rm()
	}
	d.remove = nil
	return d.session.Close()
}

// convert drops direct messages; they have no guild.
func (d *Discord) convert(m *discordgo.Message) *models.Message {
	if m == nil || m.GuildID == "" || m.Author == nil {
		return nil
	}
	msg := &models.Message{
		Ref:         models.MessageRef{ServerID: m.GuildID, ChannelID: m.ChannelID, MessageID: m.ID},
		AuthorID:    m.Author.ID,
		AuthorIsBot: m.Author.Bot,
		CreatedAt:   m.Timestamp.UTC(),
	}
	if msg.CreatedAt.IsZero() {
		if ts, err := discordgo.SnowflakeTimestamp(m.ID); err == nil {
			msg.CreatedAt = ts.UTC()
		}
	}
	for _, a := range m.Attachments {
		msg.Attachments = append(msg.Attachments, models.Attachment{
			ID:          a.ID,
			Filename:    a.Filename,
			ContentType: a.ContentType,
			URL:         a.URL,
			Size:        int64(a.Size),
			Fetch:       d.fetcher(a.URL),
		})
	}
	for _, r := range m.Reactions {
		if r.Me && r.Emoji != nil {
			msg.OwnReactions = append(msg.OwnReactions, r.Emoji.Name)
		}
	}
	return msg
}

func (d *Discord) fetcher(link string) func(ctx context.Context) ([]byte, error) {
	return func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
		if err != nil {
			return nil, err
		}
		resp, err := d.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("download attachment: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("download attachment: unexpected status %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	}
}

func (d *Discord) Reply(ctx context.Context, ref models.MessageRef, content string) error {
	_, err := d.session.ChannelMessageSendReply(ref.ChannelID, content, &discordgo.MessageReference{
		MessageID: ref.MessageID,
		ChannelID: ref.ChannelID,
		GuildID:   ref.ServerID,
	}, discordgo.WithContext(ctx))
	return mapDiscordError(err)
}

func (d *Discord) AddReaction(ctx context.Context, ref models.MessageRef, emoji string) error {
	return mapDiscordError(d.session.MessageReactionAdd(ref.ChannelID, ref.MessageID, emoji, discordgo.WithContext(ctx)))
}

func (d *Discord) RemoveOwnReaction(ctx context.Context, ref models.MessageRef, emoji string) error {
	return mapDiscordError(d.session.MessageReactionRemove(ref.ChannelID, ref.MessageID, emoji, "@me", discordgo.WithContext(ctx)))
}

func (d *Discord) DeleteMessage(ctx context.Context, ref models.MessageRef) error {
	return mapDiscordError(d.session.ChannelMessageDelete(ref.ChannelID, ref.MessageID, discordgo.WithContext(ctx)))
}

func (d *Discord) SendAudit(ctx context.Context, channelID string, e models.AuditEntry) error {
	_, err := d.session.ChannelMessageSendEmbed(channelID, auditEmbed(e, d.Mention), discordgo.WithContext(ctx))
	return mapDiscordError(err)
}

func auditEmbed(e models.AuditEntry, mention func(string) string) *discordgo.MessageEmbed {
	fields := []*discordgo.MessageEmbedField{
		{Name: "User", Value: mention(e.AuthorID), Inline: true},
		{Name: "Channel", Value: "<#" + e.Ref.ChannelID + ">", Inline: true},
		{Name: "Message", Value: linkOr(e.MessageLink, "Jump", e.Ref.MessageID), Inline: true},
		{Name: "Hash", Value: "`" + e.Hash + "`"},
		{Name: "Match", Value: fmt.Sprintf("`%s` (distance %d)", e.MatchIdentifier, e.Distance)},
	}
	if e.OriginalAuthorID != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Original User", Value: mention(e.OriginalAuthorID), Inline: true})
	}
	if e.OriginalLink != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Original Message", Value: "[Jump](" + e.OriginalLink + ")", Inline: true})
	}
	embed := &discordgo.MessageEmbed{
		Title:     e.Title,
		Color:     auditColorOrange,
		Fields:    fields,
		Footer:    &discordgo.MessageEmbedFooter{Text: e.Footer},
		Timestamp: e.At.Format(time.RFC3339),
	}
	if e.ThumbnailURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: e.ThumbnailURL}
	}
	return embed
}

func linkOr(link, label, fallback string) string {
	if link == "" {
		return fallback
	}
	return "[" + label + "](" + link + ")"
}

// History pages through a channel 100 messages at a time. Newest-first walks
// page backwards from the present; oldest-first walks page forward from
// q.After, or from the channel start.
func (d *Discord) History(ctx context.Context, _ string, channelID string, q HistoryQuery, fn func(*models.Message) error) error {
	if q.Limit <= 0 {
		return nil
	}
	var before, after string
	if q.OldestFirst {
		after = "0"
		if !q.After.IsZero() {
			after = snowflakeAt(q.After)
		}
	}

	seen := 0
	for seen < q.Limit {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := d.session.ChannelMessages(channelID, min(discordPageSize, q.Limit-seen), before, after, "", discordgo.WithContext(ctx))
		if err != nil {
			return mapDiscordError(err)
		}
		if len(page) == 0 {
			return nil
		}
		sort.Slice(page, func(i, j int) bool {
			if q.OldestFirst {
				return snowflakeLess(page[i].ID, page[j].ID)
			}
			return snowflakeLess(page[j].ID, page[i].ID)
		})
		for _, m := range page {
			if !q.OldestFirst && !q.After.IsZero() && m.Timestamp.Before(q.After) {
				return nil
			}
			if m.GuildID == "" {
				m.GuildID = d.guildOf(channelID)
			}
			if msg := d.convert(m); msg != nil {
				if err := fn(msg); err != nil {
					return err
				}
			}
			seen++
		}
		last := page[len(page)-1].ID
		if q.OldestFirst {
			after = last
		} else {
			before = last
		}
		if len(page) < discordPageSize {
			return nil
		}
	}
	return nil
}

func (d *Discord) guildOf(channelID string) string {
	if ch, err := d.session.State.Channel(channelID); err == nil {
		return ch.GuildID
	}
	return ""
}

// ReadableChannels lists text channels where the bot can view and read
// history.
func (d *Discord) ReadableChannels(ctx context.Context, serverID string) ([]string, error) {
	channels, err := d.session.GuildChannels(serverID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapDiscordError(err)
	}
	const need = discordgo.PermissionViewChannel | discordgo.PermissionReadMessageHistory
	var out []string
	for _, ch := range channels {
		if ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		perms, err := d.session.State.UserChannelPermissions(d.session.State.User.ID, ch.ID)
		if err != nil || perms&need != need {
			continue
		}
		out = append(out, ch.ID)
	}
	return out, nil
}

func (d *Discord) Mention(userID string) string {
	return "<@" + userID + ">"
}

func (d *Discord) JumpLink(ref models.MessageRef) string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", ref.ServerID, ref.ChannelID, ref.MessageID)
}

// snowflakeAt is the smallest message id created at t.
func snowflakeAt(t time.Time) string {
	ms := t.UnixMilli() - discordEpochMs
	if ms < 0 {
		ms = 0
	}
	return strconv.FormatUint(uint64(ms)<<22, 10)
}

func snowflakeLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func mapDiscordError(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrForbidden, err)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, err)
		}
	}
	return err
}
