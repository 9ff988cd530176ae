package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/digkill/TGKeyBot/internal/models"
	"github.com/digkill/TGKeyBot/internal/repository"
)

// StartingBalance is credited to every new user.
const StartingBalance = 10

type UserService struct {
	users *repository.UserRepository
	now   func() time.Time
}

func NewUserService(users *repository.UserRepository) *UserService {
	return &UserService{users: users, now: time.Now}
}

func (s *UserService) Register(ctx context.Context, identity, username, fullName string) (*models.User, error) {
	if s.users.FindByID(identity) != nil {
		return nil, ErrAlreadyRegistered
	}
	user := &models.User{
		ID:           identity,
		Username:     username,
		FullName:     fullName,
		DateJoined:   models.Timestamp{Time: s.now().Truncate(time.Second)},
		Status:       models.UserStatusActive,
		Balance:      StartingBalance,
		Subscription: models.TierNone,
		Achievements: []string{},
	}
	created, err := s.users.Create(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if !created {
		return nil, ErrAlreadyRegistered
	}
	return user.Clone(), nil
}

func (s *UserService) GetProfile(ctx context.Context, identity string) (*models.User, error) {
	user := s.users.FindByID(identity)
	if user == nil {
		return nil, ErrNotRegistered
	}
	return user, nil
}

// Ban flags the user. Balance and tier are kept; modules refuse banned users.
func (s *UserService) Ban(ctx context.Context, identity string) error {
	return s.setStatus(ctx, identity, models.UserStatusBanned)
}

func (s *UserService) Unban(ctx context.Context, identity string) error {
	return s.setStatus(ctx, identity, models.UserStatusActive)
}

func (s *UserService) setStatus(ctx context.Context, identity string, status models.UserStatus) error {
	_, err := s.users.Update(ctx, identity, func(u *models.User) error {
		u.Status = status
		return nil
	})
	return s.mapUpdateErr(err)
}

func (s *UserService) ListIdentities(ctx context.Context) []string {
	return s.users.ListIDs()
}

// RecordGame applies a game outcome: balance changes by delta, the played
// counter grows and the achievement is granted once when not empty.
func (s *UserService) RecordGame(ctx context.Context, identity string, delta int, achievement string) (*models.User, error) {
	user, err := s.users.Update(ctx, identity, func(u *models.User) error {
		if u.Banned() {
			return ErrBanned
		}
		if u.Balance+delta < 0 {
			return ErrInsufficientBalance
		}
		u.Balance += delta
		u.GamesPlayed++
		if achievement != "" && !slices.Contains(u.Achievements, achievement) {
			u.Achievements = append(u.Achievements, achievement)
		}
		return nil
	})
	if err != nil {
		return nil, s.mapUpdateErr(err)
	}
	return user, nil
}

func (s *UserService) mapUpdateErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrUserNotFound):
		return ErrNotRegistered
	case errors.Is(err, ErrBanned), errors.Is(err, ErrInsufficientBalance):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
}
