package telegram

import "gopkg.in/telebot.v3"

// Client is the slice of the bot API the notifier and caregiver sink need.
// Sent messages are returned so they can be deleted once a dose is settled.
type Client interface {
	SendMessage(chatID int64, text string, options *telebot.SendOptions) (*telebot.Message, error)
	DeleteMessage(chatID int64, messageID int) error
}
