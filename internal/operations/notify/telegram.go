package notify

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"CryptoSignalEngine/internal/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const maxMessageLength = 4096

// Notifier delivers human-readable run messages. Delivery is best effort.
type Notifier interface {
	Notify(text string)
}

// TelegramNotifier posts to one chat.
type TelegramNotifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
	log    *logger.Logger
}

func NewTelegramNotifier(token string, chatID int64, log *logger.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	log.Info("Telegram bot authorized: @%s", bot.Self.UserName)

	return &TelegramNotifier{api: bot, chatID: chatID, log: log}, nil
}

func (n *TelegramNotifier) Notify(text string) {
	for _, part := range splitMessage(text, maxMessageLength) {
		msg := tgbotapi.NewMessage(n.chatID, part)
		msg.DisableWebPagePreview = true
		if _, err := n.api.Send(msg); err != nil {
			n.log.Error("Failed to send telegram message: %v", err)
		}
	}
}

// LogNotifier writes messages to the log, used when no bot is configured.
type LogNotifier struct {
	log *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(text string) {
	n.log.Info("notify:\n%s", text)
}

// splitMessage cuts text on line boundaries into chunks of at most
// maxLength characters. A single longer line is hard-cut between runes.
func splitMessage(text string, maxLength int) []string {
	if utf8.RuneCountInString(text) <= maxLength {
		return []string{text}
	}

	var messages []string
	current := ""
	currentLen := 0

	for _, line := range strings.Split(text, "\n") {
		runes := []rune(line)
		for len(runes) > maxLength {
			if current != "" {
				messages = append(messages, current)
				current, currentLen = "", 0
			}
			messages = append(messages, string(runes[:maxLength]))
			runes = runes[maxLength:]
		}
		line = string(runes)

		if current != "" && currentLen+len(runes)+1 > maxLength {
			messages = append(messages, current)
			current, currentLen = line, len(runes)
			continue
		}
		if current != "" {
			current += "\n"
			currentLen++
		}
		current += line
		currentLen += len(runes)
	}

	if current != "" {
		messages = append(messages, current)
	}
	return messages
}
