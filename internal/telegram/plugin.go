package telegram

import (
	"log/slog"

	"github.com/digkill/TGKeyBot/internal/repository"
	"github.com/digkill/TGKeyBot/internal/service"
)

// Deps is what the bot shares with extension modules.
type Deps struct {
	Users *service.UserService
	Aux   *repository.AuxRepository
	Log   *slog.Logger
}

// Module is an extension (usually a game) that adds commands and callbacks.
// Modules are wired explicitly at startup through Bot.Use.
type Module interface {
	Name() string
	Register(reg *Registry, deps Deps) error
}
