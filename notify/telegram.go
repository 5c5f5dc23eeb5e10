package notify

import (
	"fmt"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"miniqmt/logger"
)

// Telegram pushes one-way alerts to a chat. A zero-valued Telegram (empty
// token or chat ID) is a safe no-op so callers never branch on configuration.
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64
}

// NewTelegram connects the bot, or returns a no-op notifier when token or
// chatID is unset
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	if token == "" || chatID == 0 {
		logger.Infof("🔕 Telegram notifier disabled (not configured)")
		return &Telegram{}, nil
	}
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect telegram bot: %w", err)
	}
	logger.Infof("📨 Telegram notifier connected as @%s", b.Self.UserName)
	return &Telegram{bot: b, chatID: chatID}, nil
}

func (t *Telegram) Alert(text string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, text)); err != nil {
		logger.Warnf("⚠️  Telegram send failed: %v", err)
	}
}

func (t *Telegram) Alertf(format string, args ...any) {
	t.Alert(fmt.Sprintf(format, args...))
}
