package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type HandlerFunc func(ctx context.Context, u *Update) error

// Command describes a slash command. Usage is shown in /help instead of the
// bare name when set.
type Command struct {
	Description string
	Usage       string
	AdminOnly   bool
	Hidden      bool
	Handler     HandlerFunc
}

type callbackRoute struct {
	prefix    string
	adminOnly bool
	handler   HandlerFunc
}

// Registry maps command names and callback data prefixes to handlers.
type Registry struct {
	commands  map[string]Command
	order     []string
	callbacks []callbackRoute
}

func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Command)}
}

// RegisterCommand adds a command by name, without the leading slash.
func (r *Registry) RegisterCommand(name string, cmd Command) error {
	name = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), "/")
	if name == "" || cmd.Handler == nil {
		return fmt.Errorf("invalid command registration %q", name)
	}
	if _, exists := r.commands[name]; exists {
		return fmt.Errorf("command already registered: %s", name)
	}
	r.commands[name] = cmd
	r.order = append(r.order, name)
	return nil
}

func (r *Registry) LookupCommand(name string) (Command, bool) {
	cmd, ok := r.commands[strings.ToLower(name)]
	return cmd, ok
}

// RegisterCallback routes callback data starting with prefix to handler.
func (r *Registry) RegisterCallback(prefix string, adminOnly bool, handler HandlerFunc) error {
	if prefix == "" || handler == nil {
		return fmt.Errorf("invalid callback registration %q", prefix)
	}
	for _, route := range r.callbacks {
		if route.prefix == prefix {
			return fmt.Errorf("callback already registered: %s", prefix)
		}
	}
	r.callbacks = append(r.callbacks, callbackRoute{prefix: prefix, adminOnly: adminOnly, handler: handler})
	return nil
}

// matchCallback picks the longest registered prefix of data.
func (r *Registry) matchCallback(data string) (callbackRoute, bool) {
	var best callbackRoute
	found := false
	for _, route := range r.callbacks {
		if strings.HasPrefix(data, route.prefix) && len(route.prefix) > len(best.prefix) {
			best = route
			found = true
		}
	}
	return best, found
}

// HelpText lists visible commands in registration order; admin commands are
// appended in their own section when admin is true.
func (r *Registry) HelpText(admin bool) string {
	var base, extra strings.Builder
	for _, name := range r.order {
		cmd := r.commands[name]
		if cmd.Hidden {
			continue
		}
		usage := cmd.Usage
		if usage == "" {
			usage = "/" + name
		}
		line := fmt.Sprintf("`%s` – %s\n", usage, cmd.Description)
		if cmd.AdminOnly {
			extra.WriteString(line)
			continue
		}
		base.WriteString(line)
	}
	if admin && extra.Len() > 0 {
		return base.String() + "\n*Admin-only*\n" + extra.String()
	}
	return base.String()
}

// BotCommands returns the menu entries visible to every user.
func (r *Registry) BotCommands() []tgbotapi.BotCommand {
	var list []tgbotapi.BotCommand
	for _, name := range r.order {
		cmd := r.commands[name]
		if cmd.Hidden || cmd.AdminOnly {
			continue
		}
		list = append(list, tgbotapi.BotCommand{Command: name, Description: cmd.Description})
	}
	return list
}
