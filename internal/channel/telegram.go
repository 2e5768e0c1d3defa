package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf16"

	"signalrelay/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4096 // UTF-16 code units
	defaultPollTimeout     = 30
	defaultMaxPollFailures = 5
	pollRetryDelay         = 3 * time.Second
)

// Telegram is both ends of the relay: it long-polls the Bot API for posts in
// the source chat and sends, edits and deletes messages in the destination.
// The bot must be an administrator of the source channel to receive its posts.
type Telegram struct {
	sourceChatID    int64
	pollTimeout     int
	maxPollFailures int
	retryDelay      time.Duration

	bot    *tgbotapi.BotAPI
	logger *slog.Logger
}

type TelegramConfig struct {
	Token           string
	SourceChatID    int64
	PollTimeout     int // long-poll seconds
	MaxPollFailures int // consecutive getUpdates failures before a connection fault
	APIEndpoint     string
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

// NewTelegram connects to the Bot API and validates the token with getMe.
// A rejected token is reported as domain.ErrAuthorizationFault.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.MaxPollFailures <= 0 {
		cfg.MaxPollFailures = defaultMaxPollFailures
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = newHTTPClient(time.Duration(cfg.PollTimeout) * time.Second)
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, cfg.APIEndpoint, cfg.HTTPClient)
	if err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusNotFound) {
			return nil, fmt.Errorf("telegram bot token rejected: %w: %s", domain.ErrAuthorizationFault, apiErr.Message)
		}
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	cfg.Logger.Info("telegram bot token valid",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	return &Telegram{
		sourceChatID:    cfg.SourceChatID,
		pollTimeout:     cfg.PollTimeout,
		maxPollFailures: cfg.MaxPollFailures,
		retryDelay:      pollRetryDelay,
		bot:             bot,
		logger:          cfg.Logger,
	}, nil
}

// Username returns the bot's @username.
func (t *Telegram) Username() string { return t.bot.Self.UserName }

// Start long-polls for source posts and publishes them in receipt order.
// It returns nil when ctx is cancelled and a domain.ErrConnectionFault after
// MaxPollFailures consecutive failed polls.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.logger.Info("telegram polling started", "source_chat", t.sourceChatID, "timeout", t.pollTimeout)

	offset := 0
	failures := 0
	for {
		updates, err := t.poll(ctx, offset)
		if ctx.Err() != nil {
			t.logger.Info("telegram polling stopping")
			return nil
		}
		if err != nil {
			var apiErr *tgbotapi.Error
			if errors.As(err, &apiErr) && apiErr.Code == http.StatusUnauthorized {
				return fmt.Errorf("getUpdates: %w: %s", domain.ErrAuthorizationFault, apiErr.Message)
			}
			failures++
			t.logger.Warn("telegram poll failed", "attempt", failures, "max", t.maxPollFailures, "err", err)
			if failures >= t.maxPollFailures {
				return fmt.Errorf("getUpdates failed %d times: %w: %v", failures, domain.ErrConnectionFault, err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(t.retryDelay):
			}
			continue
		}

		failures = 0
		for _, upd := range updates {
			// The offset only moves past an update once it is queued, so an
			// update that never reached the bus is fetched again.
			if msg, ok := t.inbound(upd); ok {
				if err := bus.Publish(ctx, msg); err != nil {
					if ctx.Err() != nil {
						t.logger.Info("telegram polling stopping", "pending_update", upd.UpdateID)
						return nil
					}
					return fmt.Errorf("publish update %d: %w", upd.UpdateID, err)
				}
			}
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
		}
	}
}

// poll runs one getUpdates call. The call itself cannot be cancelled, so it
// runs aside and ctx cancellation returns early; unacknowledged updates are
// delivered again on the next start.
func (t *Telegram) poll(ctx context.Context, offset int) ([]tgbotapi.Update, error) {
	u := tgbotapi.NewUpdate(offset)
	u.Timeout = t.pollTimeout
	u.AllowedUpdates = []string{"channel_post", "edited_channel_post", "message", "edited_message"}

	type result struct {
		updates []tgbotapi.Update
		err     error
	}
	done := make(chan result, 1)
	go func() {
		updates, err := t.bot.GetUpdates(u)
		done <- result{updates, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.updates, r.err
	}
}

// inbound extracts a source post from an update. Posts from other chats are ignored.
func (t *Telegram) inbound(upd tgbotapi.Update) (domain.InboundMessage, bool) {
	var m *tgbotapi.Message
	edited := false
	switch {
	case upd.ChannelPost != nil:
		m = upd.ChannelPost
	case upd.EditedChannelPost != nil:
		m, edited = upd.EditedChannelPost, true
	case upd.Message != nil:
		m = upd.Message
	case upd.EditedMessage != nil:
		m, edited = upd.EditedMessage, true
	default:
		return domain.InboundMessage{}, false
	}
	if m.Chat == nil || (t.sourceChatID != 0 && m.Chat.ID != t.sourceChatID) {
		return domain.InboundMessage{}, false
	}
	return toInbound(m, edited, t.logger), true
}

// toInbound converts a Bot API message. Media captions stand in for text;
// the media itself is not relayed.
func toInbound(m *tgbotapi.Message, edited bool, logger *slog.Logger) domain.InboundMessage {
	text, entities := m.Text, m.Entities
	if text == "" {
		text, entities = m.Caption, m.CaptionEntities
	}

	var links []domain.LinkEntity
	for _, e := range entities {
		if e.Type != "text_link" && e.Type != "url" {
			continue
		}
		start, end, ok := utf16Span(text, e.Offset, e.Length)
		if !ok {
			logger.Warn("link entity outside message text", "msg_id", m.MessageID, "offset", e.Offset, "length", e.Length)
			continue
		}
		url := e.URL
		if e.Type == "url" {
			url = text[start:end]
		}
		links = append(links, domain.LinkEntity{Offset: start, Length: end - start, URL: url})
	}

	ts := m.Date
	if edited && m.EditDate != 0 {
		ts = m.EditDate
	}
	return domain.InboundMessage{
		ID:        m.MessageID,
		ChatID:    m.Chat.ID,
		Text:      text,
		Links:     links,
		Edited:    edited,
		Timestamp: time.Unix(int64(ts), 0),
	}
}

// utf16Span converts a span in UTF-16 code units (as the Bot API counts them)
// into byte offsets of s.
func utf16Span(s string, offset, length int) (int, int, bool) {
	if offset < 0 || length < 0 {
		return 0, 0, false
	}
	start, end := -1, -1
	units := 0
	for i, r := range s {
		if units == offset {
			start = i
		}
		if units == offset+length {
			end = i
			break
		}
		n := utf16.RuneLen(r)
		if n < 0 {
			n = 1
		}
		units += n
	}
	if start < 0 && units == offset {
		start = len(s)
	}
	if end < 0 && units == offset+length {
		end = len(s)
	}
	if start < 0 || end < start {
		return 0, 0, false
	}
	return start, end, true
}

// SendMessage posts plain text and returns the new message id.
func (t *Telegram) SendMessage(ctx context.Context, chatID int64, text string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, truncate(text, telegramMaxMsgLen))
	msg.DisableWebPagePreview = true
	sent, err := t.bot.Send(msg)
	if err != nil {
		return 0, classifyError(err)
	}
	return sent.MessageID, nil
}

// EditMessage replaces the text of messageID. An unchanged text is not an error.
func (t *Telegram) EditMessage(ctx context.Context, chatID int64, messageID int, text string) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, truncate(text, telegramMaxMsgLen))
	edit.DisableWebPagePreview = true
	if _, err := t.bot.Request(edit); err != nil {
		if isAPIError(err, "message is not modified") {
			t.logger.Debug("edit skipped, text unchanged", "dest_id", messageID)
			return nil
		}
		return classifyError(err)
	}
	return nil
}

// DeleteMessage removes messageID. A message that is already gone is not an error.
func (t *Telegram) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if _, err := t.bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		if isAPIError(err, "message to delete not found") {
			t.logger.Debug("delete skipped, message already gone", "dest_id", messageID)
			return nil
		}
		return classifyError(err)
	}
	return nil
}

// ChatTitle looks up a chat, confirming the bot can see it.
func (t *Telegram) ChatTitle(ctx context.Context, chatID int64) (string, error) {
	chat, err := t.bot.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: chatID}})
	if err != nil {
		return "", classifyError(err)
	}
	if chat.Title != "" {
		return chat.Title, nil
	}
	return strings.TrimSpace(chat.FirstName + " " + chat.LastName), nil
}

// Notify sends a best-effort notice; failures are only logged.
func (t *Telegram) Notify(ctx context.Context, chatID int64, text string) {
	if _, err := t.SendMessage(ctx, chatID, text); err != nil {
		t.logger.Warn("notice not delivered", "chat_id", chatID, "err", err)
	}
}

// classifyError maps Bot API failures onto the relay's error taxonomy.
func classifyError(err error) error {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("telegram transport: %w", err)
	}
	desc := strings.ToLower(apiErr.Message)
	switch {
	case apiErr.Code == http.StatusTooManyRequests || apiErr.RetryAfter > 0:
		wait := apiErr.RetryAfter
		if wait <= 0 {
			wait = 1
		}
		return &domain.RateLimitedError{RetryAfter: time.Duration(wait) * time.Second}
	case apiErr.Code == http.StatusForbidden,
		strings.Contains(desc, "not enough rights"),
		strings.Contains(desc, "have no rights"),
		strings.Contains(desc, "chat_write_forbidden"),
		strings.Contains(desc, "need administrator rights"),
		strings.Contains(desc, "message can't be deleted"):
		return fmt.Errorf("%w: %s", domain.ErrPermissionDenied, apiErr.Message)
	case strings.Contains(desc, "message to edit not found"):
		return fmt.Errorf("%w: %s", domain.ErrMessageGone, apiErr.Message)
	default:
		return fmt.Errorf("telegram api %d: %s", apiErr.Code, apiErr.Message)
	}
}

func isAPIError(err error, substr string) bool {
	var apiErr *tgbotapi.Error
	return errors.As(err, &apiErr) && strings.Contains(strings.ToLower(apiErr.Message), substr)
}

// truncate cuts s to at most max UTF-16 code units.
func truncate(s string, max int) string {
	units := 0
	for i, r := range s {
		n := utf16.RuneLen(r)
		if n < 0 {
			n = 1
		}
		if units+n > max {
			return s[:i]
		}
		units += n
	}
	return s
}
