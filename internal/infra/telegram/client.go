// internal/infra/telegram/client.go
package telegram

import (
	"strconv"

	"gopkg.in/telebot.v3"
)

// TelebotAdapter implements the Client interface using the gopkg.in/telebot.v3 library.
type TelebotAdapter struct {
	bot *telebot.Bot
}

func NewTelebotAdapter(b *telebot.Bot) *TelebotAdapter {
	return &TelebotAdapter{bot: b}
}

// SendMessage sends a text message to the specified chat.
func (tba *TelebotAdapter) SendMessage(chatID int64, text string, options *telebot.SendOptions) (*telebot.Message, error) {
	if options == nil {
		options = &telebot.SendOptions{}
	}
	return tba.bot.Send(telebot.ChatID(chatID), text, options)
}

func (tba *TelebotAdapter) DeleteMessage(chatID int64, messageID int) error {
	return tba.bot.Delete(&telebot.StoredMessage{MessageID: strconv.Itoa(messageID), ChatID: chatID})
}
