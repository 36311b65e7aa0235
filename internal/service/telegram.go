package service

import (
	"fmt"
	"log"

	tgbotapi "github.com/OvyFlash/telegram-bot-api"
)

// TelegramNotifier mirrors staff notifications into a Telegram chat for
// employees who are not at the dashboard.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	log.Printf("Telegram notifier authorized as @%s", bot.Self.UserName)
	return &TelegramNotifier{bot: bot, chatID: chatID}, nil
}

// Send is best-effort; a failed alert is logged and dropped.
func (t *TelegramNotifier) Send(text string) {
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		log.Printf("[Telegram] send failed: %v", err)
	}
}
