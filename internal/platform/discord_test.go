package platform

import (
	"context"
	"dupguard/internal/models"
	"dupguard/internal/structures"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDiscord(t *testing.T) *Discord {
	t.Helper()
	conf := &structures.Config{Discord: structures.DiscordConfig{Enabled: true, Token: "token"}}
	conf.Hashing.DownloadTimeout = time.Second
	d, err := NewDiscord(conf, nopLogger{})
	require.NoError(t, err)
	return d
}

func TestNewDiscord_RequiresToken(t *testing.T) {
	_, err := NewDiscord(&structures.Config{}, nopLogger{})
	assert.Error(t, err)
}

func TestNewSource_ExactlyOnePlatform(t *testing.T) {
	_, err := NewSource(&structures.Config{}, nopLogger{})
	assert.Error(t, err)

	both := &structures.Config{
		Discord:  structures.DiscordConfig{Enabled: true, Token: "a"},
		Telegram: structures.TelegramConfig{Enabled: true, Token: "b"},
	}
	_, err = NewSource(both, nopLogger{})
	assert.Error(t, err)

	src, err := NewSource(&structures.Config{Discord: structures.DiscordConfig{Enabled: true, Token: "a"}}, nopLogger{})
	require.NoError(t, err)
	assert.Equal(t, "discord", ClientOf(src).Name())
}

func TestDiscord_Convert(t *testing.T) {
	d := newTestDiscord(t)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	msg := d.convert(&discordgo.Message{
		ID:        "900",
		ChannelID: "10",
		GuildID:   "1",
		Author:    &discordgo.User{ID: "7"},
		Timestamp: at,
		Attachments: []*discordgo.MessageAttachment{
			{ID: "a1", Filename: "cat.png", ContentType: "image/png", URL: "https://cdn/cat.png", Size: 2048},
		},
		Reactions: []*discordgo.MessageReactions{
			{Me: true, Emoji: &discordgo.Emoji{Name: "🔁"}},
			{Me: false, Emoji: &discordgo.Emoji{Name: "👍"}},
		},
	})
	require.NotNil(t, msg)
	assert.Equal(t, models.MessageRef{ServerID: "1", ChannelID: "10", MessageID: "900"}, msg.Ref)
	assert.Equal(t, "7", msg.AuthorID)
	assert.Equal(t, at, msg.CreatedAt)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "a1", msg.Attachments[0].ID)
	assert.Equal(t, int64(2048), msg.Attachments[0].Size)
	assert.NotNil(t, msg.Attachments[0].Fetch)
	assert.Equal(t, []string{"🔁"}, msg.OwnReactions)

	assert.Nil(t, d.convert(nil))
	assert.Nil(t, d.convert(&discordgo.Message{ID: "1", Author: &discordgo.User{ID: "7"}}))
	assert.Nil(t, d.convert(&discordgo.Message{ID: "1", GuildID: "1"}))
}

func TestDiscord_ConvertFallsBackToSnowflakeTime(t *testing.T) {
	d := newTestDiscord(t)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	msg := d.convert(&discordgo.Message{ID: snowflakeAt(at), GuildID: "1", Author: &discordgo.User{ID: "7"}})
	require.NotNil(t, msg)
	assert.True(t, at.Equal(msg.CreatedAt))
}

func TestDiscord_Fetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("image"))
	}))
	defer srv.Close()
	d := newTestDiscord(t)

	data, err := d.fetcher(srv.URL + "/ok")(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "image", string(data))

	_, err = d.fetcher(srv.URL + "/missing")(context.Background())
	assert.Error(t, err)
}

func TestSnowflakeAt(t *testing.T) {
	epoch := time.UnixMilli(discordEpochMs)
	assert.Equal(t, "0", snowflakeAt(epoch))
	assert.Equal(t, "0", snowflakeAt(epoch.Add(-time.Hour)))
	assert.Equal(t, "4194304", snowflakeAt(epoch.Add(time.Millisecond)))

	ts, err := discordgo.SnowflakeTimestamp(snowflakeAt(time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.Equal(t, 2023, ts.UTC().Year())
}

func TestSnowflakeLess(t *testing.T) {
	assert.True(t, snowflakeLess("9", "10"))
	assert.True(t, snowflakeLess("100", "101"))
	assert.False(t, snowflakeLess("101", "101"))
	assert.False(t, snowflakeLess("1000", "999"))
}

func TestMapDiscordError(t *testing.T) {
	rest := func(status int) error {
		return &discordgo.RESTError{Response: &http.Response{StatusCode: status, Status: http.StatusText(status)}}
	}
	assert.ErrorIs(t, mapDiscordError(rest(http.StatusForbidden)), ErrForbidden)
	assert.ErrorIs(t, mapDiscordError(rest(http.StatusNotFound)), ErrNotFound)

	other := rest(http.StatusTooManyRequests)
	assert.Same(t, other, mapDiscordError(other))

	plain := errors.New("gateway closed")
	assert.Same(t, plain, mapDiscordError(plain))
	assert.NoError(t, mapDiscordError(nil))
}

func TestAuditEmbed(t *testing.T) {
	d := newTestDiscord(t)
	entry := models.AuditEntry{
		Title:           "Duplicate image",
		Ref:             models.MessageRef{ServerID: "1", ChannelID: "10", MessageID: "900"},
		AuthorID:        "7",
		Hash:            "00ff",
		MatchIdentifier: "800-a.png",
		Distance:        3,
		Footer:          "dupguard",
		At:              time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	embed := auditEmbed(entry, d.Mention)
	assert.Equal(t, "Duplicate image", embed.Title)
	assert.Equal(t, auditColorOrange, embed.Color)
	assert.Equal(t, "2024-03-01T12:00:00Z", embed.Timestamp)
	assert.Nil(t, embed.Thumbnail)
	require.Len(t, embed.Fields, 5)
	assert.Equal(t, "<@7>", embed.Fields[0].Value)
	assert.Equal(t, "<#10>", embed.Fields[1].Value)
	assert.Equal(t, "900", embed.Fields[2].Value)
	assert.Equal(t, "`800-a.png` (distance 3)", embed.Fields[4].Value)

	entry.MessageLink = d.JumpLink(entry.Ref)
	entry.OriginalAuthorID = "8"
	entry.OriginalLink = "https://discord.com/channels/1/10/800"
	entry.ThumbnailURL = "https://cdn/cat.png"
	embed = auditEmbed(entry, d.Mention)
	require.Len(t, embed.Fields, 7)
	assert.Equal(t, "[Jump](https://discord.com/channels/1/10/900)", embed.Fields[2].Value)
	assert.Equal(t, "<@8>", embed.Fields[5].Value)
	assert.Equal(t, "[Jump](https://discord.com/channels/1/10/800)", embed.Fields[6].Value)
	require.NotNil(t, embed.Thumbnail)
	assert.Equal(t, "https://cdn/cat.png", embed.Thumbnail.URL)
}

func TestDiscord_HistoryWithoutLimitIsNoop(t *testing.T) {
	d := newTestDiscord(t)
	called := false
	err := d.History(context.Background(), "1", "10", HistoryQuery{}, func(*models.Message) error {
		called = true
		return nil
	})
	assert.NoError(t, err)
	assert.False(t, called)
}
