// Package coinflip is a double-or-nothing game played with account credits.
package coinflip

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"sync"

	"github.com/digkill/TGKeyBot/internal/models"
	"github.com/digkill/TGKeyBot/internal/repository"
	"github.com/digkill/TGKeyBot/internal/service"
	"github.com/digkill/TGKeyBot/internal/telegram"
)

const (
	// Achievement is granted on the first flip.
	Achievement = "First Flip"
	auxKey      = "coinflip"
	maxStake    = 1000
)

// Totals are the global counters kept in the aux document.
type Totals struct {
	Flips int `json:"flips"`
	Wins  int `json:"wins"`
}

type Module struct {
	users *service.UserService
	aux   *repository.AuxRepository
	log   *slog.Logger
	mu    sync.Mutex
	toss  func() bool
}

func New() *Module {
	return &Module{toss: func() bool { return rand.IntN(2) == 0 }}
}

func (m *Module) Name() string {
	return "coinflip"
}

func (m *Module) Register(reg *telegram.Registry, deps telegram.Deps) error {
	m.users = deps.Users
	m.aux = deps.Aux
	m.log = deps.Log.With("module", m.Name())
	return reg.RegisterCommand("coinflip", telegram.Command{
		Description: "double or nothing",
		Usage:       "/coinflip <stake>",
		Handler:     m.handle,
	})
}

func (m *Module) handle(ctx context.Context, u *telegram.Update) error {
	args := u.Args()
	if len(args) != 1 {
		u.Reply("Usage /coinflip <stake>")
		return nil
	}
	stake, err := strconv.Atoi(args[0])
	if err != nil || stake <= 0 || stake > maxStake {
		u.Reply(fmt.Sprintf("Stake must be a number between 1 and %d.", maxStake))
		return nil
	}

	won, user, err := m.Play(ctx, u.Identity, stake)
	if err != nil {
		return err
	}
	if won {
		u.Reply(fmt.Sprintf("🪙 Heads! You won %d credits. Balance: %d cr", stake, user.Balance))
		return nil
	}
	u.Reply(fmt.Sprintf("🪙 Tails. You lost %d credits. Balance: %d cr", stake, user.Balance))
	return nil
}

// Play flips the coin for identity and settles the stake. Banned and
// unregistered players and stakes above the balance are refused.
func (m *Module) Play(ctx context.Context, identity string, stake int) (bool, *models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	profile, err := m.users.GetProfile(ctx, identity)
	if err != nil {
		return false, nil, err
	}
	if profile.Banned() {
		return false, nil, service.ErrBanned
	}
	if profile.Balance < stake {
		return false, nil, service.ErrInsufficientBalance
	}

	won := m.toss()
	delta := -stake
	if won {
		delta = stake
	}
	user, err := m.users.RecordGame(ctx, identity, delta, Achievement)
	if err != nil {
		return false, nil, err
	}
	if err := m.count(ctx, won); err != nil {
		m.log.Error("update totals", "err", err)
	}
	return won, user, nil
}

func (m *Module) count(ctx context.Context, won bool) error {
	totals, err := m.Totals()
	if err != nil {
		return err
	}
	totals.Flips++
	if won {
		totals.Wins++
	}
	return m.aux.Set(ctx, auxKey, totals)
}

func (m *Module) Totals() (Totals, error) {
	var totals Totals
	if _, err := m.aux.Get(auxKey, &totals); err != nil {
		return Totals{}, fmt.Errorf("read coinflip totals: %w", err)
	}
	return totals, nil
}
