package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/TGKeyBot/internal/models"
	"github.com/digkill/TGKeyBot/internal/service"
)

const (
	msgGenericFailure = "⚠️ Something went wrong, please try again later."
	msgEnterNumber    = "Enter a number."
	msgAskQuantity    = "How many keys to generate?"
	// Telegram rejects messages longer than 4096 characters.
	maxMessageLength = 4000
)

func (b *Bot) registerCore() error {
	core := []struct {
		name string
		cmd  Command
	}{
		{"start", Command{Description: "greet", Handler: b.handleStart}},
		{"register", Command{Description: "create account", Handler: b.handleRegister}},
		{"profile", Command{Description: "your stats", Handler: b.handleProfile}},
		{"help", Command{Description: "list commands", Handler: b.handleHelp}},
		{"redeem", Command{Description: "add credits / tier", Usage: "/redeem <key>", Handler: b.handleRedeem}},
		{"generate_key", Command{Description: "make credit / sub keys", AdminOnly: true, Handler: b.handleGenerateKey}},
		{"show_keys", Command{Description: "list unused keys", AdminOnly: true, Handler: b.handleShowKeys}},
		{"ban", Command{Description: "ban user", Usage: "/ban <uid>", AdminOnly: true, Handler: b.handleBan}},
		{"unban", Command{Description: "lift a ban", Usage: "/unban <uid>", AdminOnly: true, Handler: b.handleUnban}},
		{"broadcast", Command{Description: "global msg/img", AdminOnly: true, Handler: b.handleBroadcast}},
	}
	for _, c := range core {
		if err := b.registry.RegisterCommand(c.name, c.cmd); err != nil {
			return err
		}
	}

	callbacks := []struct {
		prefix  string
		handler HandlerFunc
	}{
		{"key_credit", b.handleKeyCredit},
		{"key_sub", b.handleKeySub},
		{"camt_", b.handleCreditAmount},
		{"tier_", b.handleTier},
		{"post_keys", b.handlePostKeys},
	}
	for _, c := range callbacks {
		if err := b.registry.RegisterCallback(c.prefix, true, c.handler); err != nil {
			return err
		}
	}
	return nil
}

// errorReply maps an error to the text shown to the user. internal reports
// whether the error is unexpected and worth logging.
func errorReply(err error) (text string, internal bool) {
	switch {
	case errors.Is(err, service.ErrAlreadyRegistered):
		return "✅ You’re already registered.", false
	case errors.Is(err, service.ErrNotRegistered):
		return "⚠️ Please /register first.", false
	case errors.Is(err, service.ErrInvalidKey):
		return "❌ Invalid or used key.", false
	case errors.Is(err, service.ErrBanned):
		return "🚫 Your account is banned.", false
	case errors.Is(err, service.ErrInsufficientBalance):
		return "Not enough credits.", false
	case errors.Is(err, service.ErrUnauthorized):
		return "🚫 Admins only", false
	case errors.Is(err, service.ErrMalformedInput):
		return msgEnterNumber, false
	default:
		return msgGenericFailure, true
	}
}

func (b *Bot) handleStart(ctx context.Context, u *Update) error {
	u.Reply("👋 Hi! Use /register if you’re new, or /help for commands.")
	return nil
}

func (b *Bot) handleRegister(ctx context.Context, u *Update) error {
	if _, err := b.svc.Users.Register(ctx, u.Identity, u.From.UserName, fullName(u.From)); err != nil {
		return err
	}
	b.log.Info("user registered", "user", u.Identity)
	u.Reply(fmt.Sprintf("🎉 Registered! %d credits added. Use /help to explore features.", service.StartingBalance))
	return nil
}

func (b *Bot) handleProfile(ctx context.Context, u *Update) error {
	user, err := b.svc.Users.GetProfile(ctx, u.Identity)
	if err != nil {
		return err
	}
	u.Reply(formatProfile(user))
	return nil
}

func formatProfile(user *models.User) string {
	achievements := "None"
	if len(user.Achievements) > 0 {
		achievements = strings.Join(user.Achievements, ", ")
	}
	var sb strings.Builder
	sb.WriteString("👤 Profile\n")
	fmt.Fprintf(&sb, "ID: %s\n", user.ID)
	fmt.Fprintf(&sb, "Name: %s\n", user.FullName)
	fmt.Fprintf(&sb, "Joined: %s\n", user.DateJoined.Format(models.TimestampLayout))
	fmt.Fprintf(&sb, "Balance: %d cr\n", user.Balance)
	fmt.Fprintf(&sb, "Tier: %s\n", user.Subscription)
	fmt.Fprintf(&sb, "Games played: %d\n", user.GamesPlayed)
	fmt.Fprintf(&sb, "Achievements: %s", achievements)
	if user.Banned() {
		sb.WriteString("\nStatus: banned")
	}
	return sb.String()
}

func (b *Bot) handleHelp(ctx context.Context, u *Update) error {
	u.ReplyMarkdown(b.registry.HelpText(u.IsAdmin))
	return nil
}

func (b *Bot) handleRedeem(ctx context.Context, u *Update) error {
	args := u.Args()
	if len(args) != 1 {
		u.Reply("Usage /redeem <key>")
		return nil
	}
	reward, err := b.svc.Keys.Redeem(ctx, u.Identity, args[0])
	if err != nil {
		return err
	}
	switch reward.Kind {
	case models.KeyKindCredit:
		u.Reply(fmt.Sprintf("✅ %d credits added!", reward.Value))
	case models.KeyKindSubscription:
		u.Reply(fmt.Sprintf("✅ Tier %d subscription activated!", reward.Value))
	}
	return nil
}

func (b *Bot) handleGenerateKey(ctx context.Context, u *Update) error {
	b.svc.Wizard.Start(u.Identity)
	u.ReplyWithKeyboard("Select key type:", kindKeyboard())
	return nil
}

func (b *Bot) handleShowKeys(ctx context.Context, u *Update) error {
	credits, subscriptions := b.svc.Keys.List(ctx)
	cr := strings.Join(credits, "\n")
	if cr == "" {
		cr = "No credit keys."
	}
	sub := strings.Join(subscriptions, "\n")
	if sub == "" {
		sub = "No subscription keys."
	}
	for _, chunk := range splitMessage(fmt.Sprintf("💰 *Credits*\n%s\n\n🔒 *Subs*\n%s", cr, sub)) {
		u.ReplyMarkdown(chunk)
	}
	return nil
}

func (b *Bot) handleBan(ctx context.Context, u *Update) error {
	return b.changeStatus(ctx, u, "/ban", b.svc.Users.Ban, "User banned.")
}

func (b *Bot) handleUnban(ctx context.Context, u *Update) error {
	return b.changeStatus(ctx, u, "/unban", b.svc.Users.Unban, "User unbanned.")
}

func (b *Bot) changeStatus(ctx context.Context, u *Update, usage string, apply func(context.Context, string) error, done string) error {
	args := u.Args()
	if len(args) != 1 {
		u.Reply(fmt.Sprintf("Usage %s <uid>", usage))
		return nil
	}
	err := apply(ctx, args[0])
	switch {
	case errors.Is(err, service.ErrNotRegistered):
		u.Reply("Not found.")
		return nil
	case err != nil:
		return err
	}
	b.log.Info("user status changed", "target", args[0], "by", u.Identity, "action", usage)
	u.Reply(done)
	return nil
}

func (b *Bot) handleBroadcast(ctx context.Context, u *Update) error {
	b.state.Set(u.From.ID, StateAwaitingBroadcast)
	u.Reply("Send broadcast text or photo (with caption).")
	return nil
}

func (b *Bot) handleBroadcastMessage(ctx context.Context, u *Update) error {
	msg := u.Message
	var result service.BroadcastResult
	switch {
	case len(msg.Photo) > 0:
		// Telegram orders photo sizes ascending.
		photo := msg.Photo[len(msg.Photo)-1]
		result = b.broadcastPhoto(ctx, photo.FileID, msg.Caption)
	case strings.TrimSpace(msg.Text) != "":
		result = b.BroadcastText(ctx, msg.Text)
	default:
		u.Reply("Nothing to broadcast. Use /broadcast again.")
		return nil
	}
	u.Reply(fmt.Sprintf("Broadcast delivered to %d users.", result.Sent))
	return nil
}

func (b *Bot) handleWizardText(ctx context.Context, u *Update) error {
	reply, err := b.svc.Wizard.HandleText(ctx, u.Identity, u.Message.Text)
	if !reply.Handled {
		return nil
	}
	if err != nil {
		if errors.Is(err, service.ErrMalformedInput) {
			if reply.Next == service.WizardStepQuantity && b.svc.Keys.MaxBatch() > 0 {
				u.Reply(fmt.Sprintf("Enter a number between 1 and %d.", b.svc.Keys.MaxBatch()))
				return nil
			}
			u.Reply(msgEnterNumber)
			return nil
		}
		return err
	}
	if len(reply.Codes) == 0 {
		u.Reply(msgAskQuantity)
		return nil
	}
	chunks := splitMessage(strings.Join(reply.Codes, "\n"))
	for i, chunk := range chunks {
		if i == len(chunks)-1 {
			u.ReplyWithKeyboard(chunk, tgbotapi.NewInlineKeyboardMarkup(
				tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("📢 Make post message", "post_keys")),
			))
			break
		}
		u.Reply(chunk)
	}
	return nil
}

func (b *Bot) handleKeyCredit(ctx context.Context, u *Update) error {
	if err := b.svc.Wizard.ChooseKind(u.Identity, models.KeyKindCredit); err != nil {
		return err
	}
	keyboard := creditKeyboard()
	u.Edit("Pick credit amount:", &keyboard)
	return nil
}

func (b *Bot) handleKeySub(ctx context.Context, u *Update) error {
	if err := b.svc.Wizard.ChooseKind(u.Identity, models.KeyKindSubscription); err != nil {
		return err
	}
	keyboard := tierKeyboard()
	u.Edit("Select subscription tier:", &keyboard)
	return nil
}

func (b *Bot) handleCreditAmount(ctx context.Context, u *Update) error {
	value := strings.TrimPrefix(u.Data(), "camt_")
	if value == "custom" {
		b.svc.Wizard.ChooseCustom(u.Identity)
		u.Edit("Send custom credit amount (number):", nil)
		return nil
	}
	amount, err := parseButtonValue(value)
	if err != nil {
		return err
	}
	if err := b.svc.Wizard.ChooseCredit(u.Identity, amount); err != nil {
		return err
	}
	u.Edit(msgAskQuantity, nil)
	return nil
}

func (b *Bot) handleTier(ctx context.Context, u *Update) error {
	tier, err := parseButtonValue(strings.TrimPrefix(u.Data(), "tier_"))
	if err != nil {
		return err
	}
	if err := b.svc.Wizard.ChooseTier(u.Identity, tier); err != nil {
		return err
	}
	u.Edit(msgAskQuantity, nil)
	return nil
}

func (b *Bot) handlePostKeys(ctx context.Context, u *Update) error {
	text, ok := b.svc.Wizard.Announcement(u.Identity)
	if !ok {
		u.Answer("No keys.")
		return nil
	}
	if len(text) > maxMessageLength {
		for _, chunk := range splitMessage(text) {
			u.ReplyMarkdown(chunk)
		}
		return nil
	}
	u.EditMarkdown(text)
	return nil
}

func parseButtonValue(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: button value %q", service.ErrMalformedInput, raw)
	}
	return n, nil
}

func kindKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💰 Credits", "key_credit"),
			tgbotapi.NewInlineKeyboardButtonData("🔒 Tier", "key_sub"),
		),
	)
}

func creditKeyboard() tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(service.CreditPresets)+1)
	for _, amount := range service.CreditPresets {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(strconv.Itoa(amount), "camt_"+strconv.Itoa(amount)),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Custom amount", "camt_custom"),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func tierKeyboard() tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, tier := range []models.Tier{models.TierBronze, models.TierSilver, models.TierGold} {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(tier.String(), "tier_"+strconv.Itoa(int(tier))),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// splitMessage breaks text on line boundaries into chunks Telegram accepts.
func splitMessage(text string) []string {
	if len(text) <= maxMessageLength {
		return []string{text}
	}
	var chunks []string
	var sb strings.Builder
	for _, line := range strings.Split(text, "\n") {
		if sb.Len() > 0 && sb.Len()+len(line)+1 > maxMessageLength {
			chunks = append(chunks, sb.String())
			sb.Reset()
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(line)
	}
	if sb.Len() > 0 {
		chunks = append(chunks, sb.String())
	}
	return chunks
}
