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
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	json "github.com/goccy/go-json"
)

const telegramName = "telegram"

// TelegramBot is the part of the bot API the adapter uses.
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	GetSelf() tgbotapi.User
}

type tgBotWrapper struct {
	*tgbotapi.BotAPI
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User {
	return w.Self
}

// TelegramBotFactory creates the bot client; tests replace it.
type TelegramBotFactory func(token string, client *http.Client) (TelegramBot, error)

var defaultTelegramFactory TelegramBotFactory = func(token string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{BotAPI: bot}, nil
}

// Telegram maps a chat to both the server and the channel of the core
// model. Bots cannot read chat history, so history walks are unsupported.
type Telegram struct {
	token      string
	proxy      string
	factory    TelegramBotFactory
	httpClient *http.Client
	bot        TelegramBot
	logger     providers.Logger
	cancel     context.CancelFunc
	done       chan struct{}
}

func NewTelegram(conf *structures.Config, logger providers.Logger) (*Telegram, error) {
	return NewTelegramWithFactory(conf, logger, defaultTelegramFactory)
}

func NewTelegramWithFactory(conf *structures.Config, logger providers.Logger, factory TelegramBotFactory) (*Telegram, error) {
	if conf.Telegram.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	return &Telegram{
		token:      conf.Telegram.Token,
		proxy:      conf.Telegram.Proxy,
		factory:    factory,
		httpClient: http.DefaultClient,
		logger:     logger,
	}, nil
}

func (t *Telegram) Name() string { return telegramName }

// SetBot injects a bot client without going through Start.
func (t *Telegram) SetBot(bot TelegramBot) {
	t.bot = bot
}

func (t *Telegram) initBot() error {
	client := http.DefaultClient
	if t.proxy != "" {
		proxyURL, err := url.Parse(t.proxy)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		client = &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}
	}
	t.httpClient = client

	bot, err := t.factory(t.token, client)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	t.bot = bot
	t.logger.Infof(providers.TypePlatform, "[telegram] authorized as @%s", bot.GetSelf().UserName)
	return nil
}

func (t *Telegram) Start(ctx context.Context, h Handler) error {
	if t.bot == nil {
		if err := t.initBot(); err != nil {
			return err
		}
	}
	ctx, t.cancel = context.WithCancel(ctx)
	t.done = make(chan struct{})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message", "my_chat_member"}
	updates := t.bot.GetUpdatesChan(u)

	go h.OnReady(ctx, nil)
	go func() {
		defer close(t.done)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				t.dispatch(ctx, h, update)
			case <-ctx.Done():
				return
			}
		}
	}()

	t.logger.Infof(providers.TypePlatform, "[telegram] polling started")
	return nil
}

func (t *Telegram) dispatch(ctx context.Context, h Handler, update tgbotapi.Update) {
	if m := update.MyChatMember; m != nil {
		switch m.NewChatMember.Status {
		case "member", "administrator":
			go h.OnServerJoin(ctx, strconv.FormatInt(m.Chat.ID, 10))
		}
		return
	}
	if update.Message == nil {
		return
	}
	if msg := t.convert(update.Message); msg != nil {
		go h.OnMessage(ctx, msg)
	}
}

func (t *Telegram) convert(m *tgbotapi.Message) *models.Message {
	if m.Chat == nil || (m.From == nil && m.SenderChat == nil) {
		return nil
	}
	chatID := strconv.FormatInt(m.Chat.ID, 10)
	msg := &models.Message{
		Ref:       models.MessageRef{ServerID: chatID, ChannelID: chatID, MessageID: strconv.Itoa(m.MessageID)},
		CreatedAt: time.Unix(int64(m.Date), 0).UTC(),
	}
	if m.From != nil {
		msg.AuthorID = strconv.FormatInt(m.From.ID, 10)
		msg.AuthorIsBot = m.From.IsBot
	} else {
		msg.AuthorID = strconv.FormatInt(m.SenderChat.ID, 10)
	}

	if len(m.Photo) > 0 {
		photo := m.Photo[len(m.Photo)-1]
		msg.Attachments = append(msg.Attachments, models.Attachment{
			ID:          photo.FileUniqueID,
			Filename:    "photo_" + photo.FileUniqueID + ".jpg",
			ContentType: "image/jpeg",
			Size:        int64(photo.FileSize),
			Fetch:       t.fetcher(photo.FileID),
		})
	}
	if d := m.Document; d != nil {
		name := d.FileName
		if name == "" {
			name = d.FileUniqueID
		}
		msg.Attachments = append(msg.Attachments, models.Attachment{
			ID:          d.FileUniqueID,
			Filename:    name,
			ContentType: d.MimeType,
			Size:        int64(d.FileSize),
			Fetch:       t.fetcher(d.FileID),
		})
	}
	return msg
}

func (t *Telegram) fetcher(fileID string) func(ctx context.Context) ([]byte, error) {
	return func(ctx context.Context) ([]byte, error) {
		link, err := t.bot.GetFileDirectURL(fileID)
		if err != nil {
			return nil, fmt.Errorf("get telegram file: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
		if err != nil {
			return nil, err
		}
		resp, err := t.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("download telegram file: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("download telegram file: unexpected status %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	}
}

func (t *Telegram) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
	if t.done != nil {
		<-t.done
	}
	t.logger.Infof(providers.TypePlatform, "[telegram] stopped")
	return nil
}

func parseTelegramRef(ref models.MessageRef) (int64, int, error) {
	chatID, err := strconv.ParseInt(ref.ChannelID, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid chat id %q: %w", ref.ChannelID, err)
	}
	msgID, err := strconv.Atoi(ref.MessageID)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid message id %q: %w", ref.MessageID, err)
	}
	return chatID, msgID, nil
}

func (t *Telegram) Reply(_ context.Context, ref models.MessageRef, content string) error {
	chatID, msgID, err := parseTelegramRef(ref)
	if err != nil {
		return err
	}
	out := tgbotapi.NewMessage(chatID, toTelegramHTML(content))
	out.ParseMode = tgbotapi.ModeHTML
	out.ReplyToMessageID = msgID
	_, err = t.bot.Send(out)
	return mapTelegramError(err)
}

func (t *Telegram) setReaction(ref models.MessageRef, emojis ...string) error {
	chatID, msgID, err := parseTelegramRef(ref)
	if err != nil {
		return err
	}
	type reaction struct {
		Type  string `json:"type"`
		Emoji string `json:"emoji"`
	}
	list := make([]reaction, 0, len(emojis))
	for _, e := range emojis {
		list = append(list, reaction{Type: "emoji", Emoji: e})
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return err
	}
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero("message_id", msgID)
	params["reaction"] = string(raw)
	_, err = t.bot.MakeRequest("setMessageReaction", params)
	return mapTelegramError(err)
}

func (t *Telegram) AddReaction(_ context.Context, ref models.MessageRef, emoji string) error {
	return t.setReaction(ref, emoji)
}

// RemoveOwnReaction clears every reaction the bot set on the message.
func (t *Telegram) RemoveOwnReaction(_ context.Context, ref models.MessageRef, _ string) error {
	return t.setReaction(ref)
}

func (t *Telegram) DeleteMessage(_ context.Context, ref models.MessageRef) error {
	chatID, msgID, err := parseTelegramRef(ref)
	if err != nil {
		return err
	}
	_, err = t.bot.Request(tgbotapi.NewDeleteMessage(chatID, msgID))
	return mapTelegramError(err)
}

func (t *Telegram) SendAudit(_ context.Context, channelID string, e models.AuditEntry) error {
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid log chat id %q: %w", channelID, err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**%s**\n", e.Title)
	fmt.Fprintf(&b, "User: %s\n", t.Mention(e.AuthorID))
	fmt.Fprintf(&b, "Message: %s\n", orDash(e.MessageLink))
	fmt.Fprintf(&b, "Hash: `%s`\n", e.Hash)
	fmt.Fprintf(&b, "Match: `%s` (distance %d)\n", e.MatchIdentifier, e.Distance)
	if e.OriginalAuthorID != "" {
		fmt.Fprintf(&b, "Original user: %s\n", t.Mention(e.OriginalAuthorID))
	}
	if e.OriginalLink != "" {
		fmt.Fprintf(&b, "Original: %s\n", e.OriginalLink)
	}
	fmt.Fprintf(&b, "%s | %s", e.Footer, e.At.Format(time.RFC3339))

	out := tgbotapi.NewMessage(chatID, toTelegramHTML(b.String()))
	out.ParseMode = tgbotapi.ModeHTML
	out.DisableWebPagePreview = true
	_, err = t.bot.Send(out)
	return mapTelegramError(err)
}

func (t *Telegram) History(_ context.Context, _, _ string, _ HistoryQuery, _ func(*models.Message) error) error {
	return fmt.Errorf("%w: telegram bots cannot read chat history", ErrUnsupported)
}

// ReadableChannels returns the chat itself; it is its own only channel.
func (t *Telegram) ReadableChannels(_ context.Context, serverID string) ([]string, error) {
	return []string{serverID}, nil
}

// Mention yields a placeholder that toTelegramHTML turns into a user link.
func (t *Telegram) Mention(userID string) string {
	return "\x00" + userID + "\x00"
}

// JumpLink only exists for supergroups and channels, whose ids carry the
// -100 prefix.
func (t *Telegram) JumpLink(ref models.MessageRef) string {
	internal, ok := strings.CutPrefix(ref.ChannelID, "-100")
	if !ok || internal == "" {
		return ""
	}
	return fmt.Sprintf("https://t.me/c/%s/%s", internal, ref.MessageID)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func mapTelegramError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		desc := strings.ToLower(apiErr.Message)
		switch {
		case apiErr.Code == http.StatusForbidden,
			strings.Contains(desc, "not enough rights"),
			strings.Contains(desc, "can't be deleted"):
			return fmt.Errorf("%w: %s", ErrForbidden, apiErr.Message)
		case strings.Contains(desc, "not found"):
			return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message)
		}
	}
	return err
}

var (
	tgMention = regexp.MustCompile("\x00(-?\\d+)\x00")
	tgCode    = regexp.MustCompile("`([^`]*)`")
	tgBold    = regexp.MustCompile(`\*\*([^*]+)\*\*`)
)

// toTelegramHTML escapes text for HTML parse mode and converts inline code,
// bold and mention placeholders.
func toTelegramHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = tgCode.ReplaceAllString(s, "<code>$1</code>")
	s = tgBold.ReplaceAllString(s, "<b>$1</b>")
	return tgMention.ReplaceAllString(s, `<a href="tg://user?id=$1">user $1</a>`)
}
