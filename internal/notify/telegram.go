// Package notify announces reading sessions to a Telegram chat.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"bookshelf/internal/models"
)

const requestTimeout = 10 * time.Second

// TelegramConfig selects the bot and the chat (and optional forum topic)
// that receives session announcements
type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int

	// APIEndpoint overrides tgbotapi.APIEndpoint, mainly for tests
	APIEndpoint string
}

// Telegram posts a message for every logged reading session
type Telegram struct {
	api      *tgbotapi.BotAPI
	chatID   int64
	threadID int
	logger   *zap.Logger
}

// NewTelegram connects to the bot API
func NewTelegram(cfg TelegramConfig, logger *zap.Logger) (*Telegram, error) {
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}

	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, endpoint, &http.Client{Timeout: requestTimeout})
	if err != nil {
		logger.Error("Failed to create bot API", zap.Error(err))
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	logger.Info("Notification bot created",
		zap.String("bot_username", api.Self.UserName),
		zap.Int64("chat_id", cfg.ChatID),
		zap.Int("thread_id", cfg.ThreadID),
	)

	return &Telegram{
		api:      api,
		chatID:   cfg.ChatID,
		threadID: cfg.ThreadID,
		logger:   logger,
	}, nil
}

// SessionLogged sends the session summary to the configured chat
func (t *Telegram) SessionLogged(ctx context.Context, work models.TrackedWork, session models.ProgressEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Raw params so the forum topic id can be set
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", t.chatID)
	params.AddNonZero("message_thread_id", t.threadID)
	params.AddNonEmpty("text", FormatSession(work, session))

	// MakeRequest takes no context; the request keeps running until the
	// client timeout even after ctx gives up on it
	errc := make(chan error, 1)
	go func() {
		_, err := t.api.MakeRequest("sendMessage", params)
		errc <- err
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("send session message: %w", ctx.Err())
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("send session message: %w", err)
		}
	}
	t.logger.Debug("Session notification sent",
		zap.String("user_book_id", work.ID),
		zap.String("session_id", session.ID),
	)
	return nil
}

// FormatSession renders the announcement text
func FormatSession(work models.TrackedWork, session models.ProgressEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📖 %s by %s\n", work.Title, work.AuthorName)
	fmt.Fprintf(&b, "+%d pages, now on page %d\n", session.PagesRead, work.CurrentPageNumber)
	fmt.Fprintf(&b, "📅 %s", session.SessionDate.Format("2006-01-02 15:04"))
	if session.Notes != nil && *session.Notes != "" {
		fmt.Fprintf(&b, "\n📝 %s", *session.Notes)
	}
	return b.String()
}

// Nop drops every notification
type Nop struct{}

func (Nop) SessionLogged(context.Context, models.TrackedWork, models.ProgressEvent) error {
	return nil
}
