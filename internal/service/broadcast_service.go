package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/digkill/TGKeyBot/internal/repository"
)

// DeliverFunc sends one broadcast message to a single user.
type DeliverFunc func(ctx context.Context, identity string) error

type BroadcastResult struct {
	Sent  int
	Total int
}

type BroadcastService struct {
	users *repository.UserRepository
	log   *slog.Logger
}

func NewBroadcastService(users *repository.UserRepository, log *slog.Logger) *BroadcastService {
	return &BroadcastService{users: users, log: log}
}

// Broadcast delivers to every registered user. A failed delivery is logged and
// skipped; the result counts successful deliveries only.
func (s *BroadcastService) Broadcast(ctx context.Context, deliver DeliverFunc) BroadcastResult {
	runID := uuid.NewString()
	ids := s.users.ListIDs()
	result := BroadcastResult{Total: len(ids)}
	s.log.Info("broadcast started", "run", runID, "total", len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			s.log.Warn("broadcast interrupted", "run", runID, "err", err)
			break
		}
		if err := deliver(ctx, id); err != nil {
			s.log.Error("send broadcast", "run", runID, "user", id, "err", err)
			continue
		}
		result.Sent++
	}
	s.log.Info("broadcast finished", "run", runID, "sent", result.Sent, "total", result.Total)
	return result
}
