package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/TGKeyBot/internal/config"
	"github.com/digkill/TGKeyBot/internal/repository"
	"github.com/digkill/TGKeyBot/internal/service"
)

// BotAPI is the subset of *tgbotapi.BotAPI the bot uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Services struct {
	Users     *service.UserService
	Keys      *service.KeyService
	Wizard    *service.Wizard
	Broadcast *service.BroadcastService
	Aux       *repository.AuxRepository
}

type Bot struct {
	cfg      config.Config
	api      BotAPI
	log      *slog.Logger
	svc      Services
	registry *Registry
	state    *StateManager
	modules  []string
}

func NewBot(cfg config.Config, api BotAPI, log *slog.Logger, svc Services) (*Bot, error) {
	b := &Bot{
		cfg:      cfg,
		api:      api,
		log:      log,
		svc:      svc,
		registry: NewRegistry(),
		state:    NewStateManager(),
	}
	if err := b.registerCore(); err != nil {
		return nil, err
	}
	return b, nil
}

// Use registers extension modules in the given order.
func (b *Bot) Use(modules ...Module) error {
	deps := Deps{Users: b.svc.Users, Aux: b.svc.Aux, Log: b.log}
	for _, m := range modules {
		if err := m.Register(b.registry, deps); err != nil {
			return fmt.Errorf("register module %s: %w", m.Name(), err)
		}
		b.modules = append(b.modules, m.Name())
		b.log.Info("module loaded", "module", m.Name())
	}
	return nil
}

func (b *Bot) Registry() *Registry {
	return b.registry
}

func (b *Bot) Run(ctx context.Context) error {
	if _, err := b.api.Request(tgbotapi.NewSetMyCommands(b.registry.BotCommands()...)); err != nil {
		b.log.Warn("set bot commands", "err", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.PollTimeout

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("telegram bot started", "modules", b.modules)

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.HandleUpdate(ctx, update)
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		}
	}
}

// HandleUpdate dispatches one update. Handler panics are recovered and logged.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("handler panic", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	switch {
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

func (b *Bot) newUpdate(from *tgbotapi.User, chatID int64) *Update {
	return &Update{
		From:     from,
		ChatID:   chatID,
		Identity: identityOf(from),
		IsAdmin:  from.ID == b.cfg.AdminID,
		bot:      b,
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	u := b.newUpdate(msg.From, msg.Chat.ID)
	u.Message = msg

	if msg.IsCommand() {
		cmd, ok := b.registry.LookupCommand(msg.Command())
		if !ok {
			b.sendText(msg.Chat.ID, "Unknown command. Use /help.")
			return
		}
		if cmd.AdminOnly && !u.IsAdmin {
			b.log.Debug("admin command dropped", "command", msg.Command(), "user", u.Identity)
			return
		}
		// Any command cancels a pending broadcast; /broadcast arms it again.
		b.state.Reset(msg.From.ID)
		b.finish(u, cmd.Handler(ctx, u))
		return
	}

	if !u.IsAdmin {
		return
	}
	if b.state.Take(msg.From.ID) == StateAwaitingBroadcast {
		b.finish(u, b.handleBroadcastMessage(ctx, u))
		return
	}
	b.finish(u, b.handleWizardText(ctx, u))
}

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if q.From == nil {
		return
	}
	var chatID int64
	if q.Message != nil && q.Message.Chat != nil {
		chatID = q.Message.Chat.ID
	} else {
		chatID = q.From.ID
	}
	u := b.newUpdate(q.From, chatID)
	u.Callback = q
	defer u.Answer("")

	route, ok := b.registry.matchCallback(q.Data)
	if !ok {
		b.log.Warn("unknown callback", "data", q.Data, "user", u.Identity)
		return
	}
	if route.adminOnly && !u.IsAdmin {
		b.log.Debug("admin callback dropped", "data", q.Data, "user", u.Identity)
		return
	}
	b.finish(u, route.handler(ctx, u))
}

// finish turns a handler error into a reply.
func (b *Bot) finish(u *Update, err error) {
	if err == nil {
		return
	}
	text, internal := errorReply(err)
	if internal {
		b.log.Error("handler failed", "user", u.Identity, "err", err)
	}
	if u.Callback != nil {
		u.Answer(text)
		return
	}
	u.Reply(text)
}

// BroadcastText delivers text to every registered user.
func (b *Bot) BroadcastText(ctx context.Context, text string) service.BroadcastResult {
	return b.svc.Broadcast.Broadcast(ctx, func(ctx context.Context, identity string) error {
		chatID, err := strconv.ParseInt(identity, 10, 64)
		if err != nil {
			return fmt.Errorf("bad identity %q: %w", identity, err)
		}
		_, err = b.api.Send(tgbotapi.NewMessage(chatID, text))
		return err
	})
}

func (b *Bot) broadcastPhoto(ctx context.Context, fileID, caption string) service.BroadcastResult {
	return b.svc.Broadcast.Broadcast(ctx, func(ctx context.Context, identity string) error {
		chatID, err := strconv.ParseInt(identity, 10, 64)
		if err != nil {
			return fmt.Errorf("bad identity %q: %w", identity, err)
		}
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileID(fileID))
		photo.Caption = caption
		_, err = b.api.Send(photo)
		return err
	})
}

func (b *Bot) sendText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send text", "err", err)
	}
}

func (b *Bot) sendMarkdown(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send markdown", "err", err)
	}
}

func (b *Bot) sendKeyboard(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = keyboard
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send keyboard", "err", err)
	}
}

func (b *Bot) editText(chatID int64, messageID int, text string, keyboard *tgbotapi.InlineKeyboardMarkup, parseMode string) {
	var edit tgbotapi.EditMessageTextConfig
	if keyboard != nil {
		edit = tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, *keyboard)
	} else {
		edit = tgbotapi.NewEditMessageText(chatID, messageID, text)
	}
	edit.ParseMode = parseMode
	if _, err := b.api.Send(edit); err != nil {
		b.log.Error("edit message", "err", err)
	}
}
