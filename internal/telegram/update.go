package telegram

import (
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Update is the inbound event passed to handlers.
type Update struct {
	Message  *tgbotapi.Message
	Callback *tgbotapi.CallbackQuery
	From     *tgbotapi.User
	ChatID   int64
	Identity string
	IsAdmin  bool

	bot      *Bot
	answered bool
}

// Args splits the command arguments on whitespace.
func (u *Update) Args() []string {
	if u.Message == nil {
		return nil
	}
	return strings.Fields(u.Message.CommandArguments())
}

// Data returns the callback data, empty for messages.
func (u *Update) Data() string {
	if u.Callback == nil {
		return ""
	}
	return u.Callback.Data
}

func (u *Update) Reply(text string) {
	u.bot.sendText(u.ChatID, text)
}

func (u *Update) ReplyMarkdown(text string) {
	u.bot.sendMarkdown(u.ChatID, text)
}

func (u *Update) ReplyWithKeyboard(text string, keyboard tgbotapi.InlineKeyboardMarkup) {
	u.bot.sendKeyboard(u.ChatID, text, keyboard)
}

// Edit replaces the text of the message a callback button belongs to, and
// falls back to a new message for plain messages.
func (u *Update) Edit(text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	if u.Callback == nil || u.Callback.Message == nil {
		if keyboard != nil {
			u.ReplyWithKeyboard(text, *keyboard)
			return
		}
		u.Reply(text)
		return
	}
	u.bot.editText(u.ChatID, u.Callback.Message.MessageID, text, keyboard, "")
}

func (u *Update) EditMarkdown(text string) {
	if u.Callback == nil || u.Callback.Message == nil {
		u.ReplyMarkdown(text)
		return
	}
	u.bot.editText(u.ChatID, u.Callback.Message.MessageID, text, nil, tgbotapi.ModeMarkdown)
}

// Answer acknowledges the callback query with an optional notice.
func (u *Update) Answer(text string) {
	if u.Callback == nil || u.answered {
		return
	}
	u.answered = true
	if _, err := u.bot.api.Request(tgbotapi.NewCallback(u.Callback.ID, text)); err != nil {
		u.bot.log.Error("callback ack", "err", err)
	}
}

func identityOf(user *tgbotapi.User) string {
	return strconv.FormatInt(user.ID, 10)
}

func fullName(user *tgbotapi.User) string {
	return strings.TrimSpace(user.FirstName + " " + user.LastName)
}
