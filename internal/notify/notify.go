// Package notify sends operator alerts about billing activity.
package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"github.com/BatmanBruc/billing-engine/internal/i18n"
	"github.com/BatmanBruc/billing-engine/internal/messages"
	"github.com/BatmanBruc/billing-engine/types"
)

const sendTimeout = 10 * time.Second

// Sender is the part of *bot.Bot used here.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// Telegram posts alerts to one operator chat. Sends happen in the
// background and failures are only logged.
type Telegram struct {
	sender Sender
	chatID int64
	lang   i18n.Lang
	log    *zap.Logger
	wg     sync.WaitGroup
}

func NewTelegram(sender Sender, chatID int64, lang i18n.Lang, log *zap.Logger) *Telegram {
	if log == nil {
		log = zap.NewNop()
	}
	return &Telegram{sender: sender, chatID: chatID, lang: lang, log: log.Named("notify")}
}

// NewTelegramBot builds a notifier backed by a bot client for token.
func NewTelegramBot(token string, chatID int64, lang i18n.Lang, log *zap.Logger) (*Telegram, error) {
	b, err := bot.New(token, bot.WithHTTPClient(sendTimeout, &http.Client{Timeout: sendTimeout}))
	if err != nil {
		return nil, err
	}
	return NewTelegram(b, chatID, lang, log), nil
}

func (t *Telegram) ContributionReceived(_ context.Context, c types.Contribution) {
	t.send(messages.ContributionReceived(t.lang, c))
}

func (t *Telegram) SignatureRejected(_ context.Context, reason string) {
	t.send(messages.SignatureRejected(t.lang, reason))
}

func (t *Telegram) send(text string) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		_, err := t.sender.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:    t.chatID,
			Text:      text,
			ParseMode: messages.ParseModeHTML,
		})
		if err != nil {
			t.log.Warn("operator notification failed", zap.Int64("chat_id", t.chatID), zap.Error(err))
		}
	}()
}

// Close waits for in-flight sends.
func (t *Telegram) Close() {
	t.wg.Wait()
}

// Nop drops every alert.
type Nop struct{}

func (Nop) ContributionReceived(context.Context, types.Contribution) {}
func (Nop) SignatureRejected(context.Context, string)                {}
func (Nop) Close()                                                   {}
