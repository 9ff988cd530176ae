package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/digkill/TGKeyBot/internal/models"
	"github.com/digkill/TGKeyBot/internal/repository"
)

const (
	DefaultKeyPrefix = "MIKU"
	suffixLength     = 8
	suffixAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxCodeAttempts  = 16
)

type KeyOptions struct {
	Prefix   string
	MaxBatch int
}

// KeyService issues and redeems keys. Issue and Redeem are serialized so two
// redemptions never observe the same code as outstanding.
type KeyService struct {
	mu       sync.Mutex
	keys     *repository.KeyRepository
	users    *repository.UserRepository
	log      *slog.Logger
	prefix   string
	maxBatch int
	suffix   func() (string, error)
}

func NewKeyService(keys *repository.KeyRepository, users *repository.UserRepository, log *slog.Logger, opts KeyOptions) *KeyService {
	prefix := strings.TrimSpace(opts.Prefix)
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &KeyService{
		keys:     keys,
		users:    users,
		log:      log,
		prefix:   prefix,
		maxBatch: opts.MaxBatch,
		suffix:   randomSuffix,
	}
}

// FormatCode renders <prefix>-CR<value>-<suffix> or <prefix>-SUB<tier>-<suffix>.
func FormatCode(prefix string, kind models.KeyKind, value int, suffix string) string {
	tag := "CR"
	if kind == models.KeyKindSubscription {
		tag = "SUB"
	}
	return fmt.Sprintf("%s-%s%d-%s", prefix, tag, value, suffix)
}

func ValidateReward(kind models.KeyKind, value int) error {
	switch kind {
	case models.KeyKindCredit:
		if value <= 0 {
			return fmt.Errorf("%w: credit amount must be positive", ErrMalformedInput)
		}
	case models.KeyKindSubscription:
		if !models.Tier(value).Valid() {
			return fmt.Errorf("%w: tier must be 1, 2 or 3", ErrMalformedInput)
		}
	default:
		return fmt.Errorf("%w: unknown key kind %q", ErrMalformedInput, kind)
	}
	return nil
}

func (s *KeyService) MaxBatch() int {
	return s.maxBatch
}

// Issue generates count unique codes and saves the ledger once for the batch.
func (s *KeyService) Issue(ctx context.Context, kind models.KeyKind, value, count int) ([]string, error) {
	if err := ValidateReward(kind, value); err != nil {
		return nil, err
	}
	if count < 1 {
		return nil, fmt.Errorf("%w: count must be at least 1", ErrMalformedInput)
	}
	if s.maxBatch > 0 && count > s.maxBatch {
		return nil, fmt.Errorf("%w: count must not exceed %d", ErrMalformedInput, s.maxBatch)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := make([]models.IssuedKey, 0, count)
	seen := make(map[string]struct{}, count)
	for len(batch) < count {
		code, err := s.uniqueCode(kind, value, seen)
		if err != nil {
			return nil, err
		}
		seen[code] = struct{}{}
		batch = append(batch, models.IssuedKey{Code: code, Kind: kind, Value: value})
	}

	if err := s.keys.Insert(ctx, batch); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	codes := make([]string, len(batch))
	for i, k := range batch {
		codes[i] = k.Code
	}
	s.log.Info("keys issued", "kind", kind, "value", value, "count", count)
	return codes, nil
}

func (s *KeyService) uniqueCode(kind models.KeyKind, value int, seen map[string]struct{}) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		suffix, err := s.suffix()
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		code := FormatCode(s.prefix, kind, value, suffix)
		if _, dup := seen[code]; dup {
			continue
		}
		if s.keys.Exists(code) {
			continue
		}
		return code, nil
	}
	return "", fmt.Errorf("generate code: no unique code after %d attempts", maxCodeAttempts)
}

// Redeem consumes the code and applies its reward. Unknown and already used
// codes both yield ErrInvalidKey.
func (s *KeyService) Redeem(ctx context.Context, identity, code string) (models.Reward, error) {
	code = strings.TrimSpace(code)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.users.FindByID(identity) == nil {
		return models.Reward{}, ErrNotRegistered
	}

	key, ok, err := s.keys.Remove(ctx, code)
	if err != nil {
		return models.Reward{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if !ok {
		return models.Reward{}, ErrInvalidKey
	}

	_, err = s.users.Update(ctx, identity, func(u *models.User) error {
		switch key.Kind {
		case models.KeyKindCredit:
			u.Balance += key.Value
		case models.KeyKindSubscription:
			u.Subscription = models.Tier(key.Value)
		}
		return nil
	})
	if err != nil {
		if restoreErr := s.keys.Restore(ctx, key); restoreErr != nil {
			s.log.Error("restore key after failed redeem", "code", key.Code, "user", identity, "err", restoreErr)
		}
		if errors.Is(err, repository.ErrUserNotFound) {
			return models.Reward{}, ErrNotRegistered
		}
		return models.Reward{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	s.log.Info("key redeemed", "user", identity, "kind", key.Kind, "value", key.Value)
	return models.Reward{Kind: key.Kind, Value: key.Value}, nil
}

// List returns the outstanding credit and subscription codes.
func (s *KeyService) List(ctx context.Context) (credits, subscriptions []string) {
	return s.keys.List()
}

func randomSuffix() (string, error) {
	var sb strings.Builder
	sb.Grow(suffixLength)
	limit := big.NewInt(int64(len(suffixAlphabet)))
	for i := 0; i < suffixLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		sb.WriteByte(suffixAlphabet[n.Int64()])
	}
	return sb.String(), nil
}
