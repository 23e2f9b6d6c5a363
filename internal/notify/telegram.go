package notify

import (
	"context"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// telegramSink forwards notifications to a Telegram chat. Useful when the
// scheduler runs headless and there is no desktop session to notify.
type telegramSink struct {
	bot    *tele.Bot
	chatID int64
}

func NewTelegramSink(token string, chatID int64) (Sink, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("telegram chat id is required")
	}
	bot, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &telegramSink{bot: bot, chatID: chatID}, nil
}

func (s *telegramSink) Name() string { return "telegram" }

func (s *telegramSink) Send(_ context.Context, n Notification) error {
	text := n.Title
	if n.Body != "" {
		text += "\n" + n.Body
	}
	if n.Urgency == UrgencyCritical {
		text = "⚠ " + text
	}
	_, err := s.bot.Send(tele.ChatID(s.chatID), text)
	return err
}
