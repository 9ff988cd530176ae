package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/digkill/TGKeyBot/internal/models"
	"github.com/digkill/TGKeyBot/internal/storage"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository mirrors the user document in memory. Changes are committed
// to the mirror only after the document was saved.
type UserRepository struct {
	store *storage.Store
	mu    sync.RWMutex
	users map[string]*models.User
}

func NewUserRepository(ctx context.Context, store *storage.Store) (*UserRepository, error) {
	users := make(map[string]*models.User)
	if err := store.Load(ctx, storage.DocumentUsers, &users); err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	for id, u := range users {
		if u == nil {
			delete(users, id)
			continue
		}
		u.ID = id
		if u.Status == "" {
			u.Status = models.UserStatusActive
		}
	}
	return &UserRepository{store: store, users: users}, nil
}

func (r *UserRepository) FindByID(id string) *models.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.users[id].Clone()
}

// Create stores a new user. It reports false without saving when the id is taken.
func (r *UserRepository) Create(ctx context.Context, user *models.User) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.users[user.ID]; exists {
		return false, nil
	}
	next := r.copyWith(user.ID, user.Clone())
	if err := r.store.Save(ctx, storage.DocumentUsers, next); err != nil {
		return false, fmt.Errorf("insert user: %w", err)
	}
	r.users = next
	return true, nil
}

// Update applies fn to a copy of the user and persists it. When fn or the
// save fails the stored user stays untouched.
func (r *UserRepository) Update(ctx context.Context, id string, fn func(*models.User) error) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	updated := current.Clone()
	if err := fn(updated); err != nil {
		return nil, err
	}
	updated.ID = id
	next := r.copyWith(id, updated)
	if err := r.store.Save(ctx, storage.DocumentUsers, next); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	r.users = next
	return updated.Clone(), nil
}

func (r *UserRepository) ListIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *UserRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// copyWith returns a shallow copy of the user map with id replaced by user.
func (r *UserRepository) copyWith(id string, user *models.User) map[string]*models.User {
	next := make(map[string]*models.User, len(r.users)+1)
	for k, v := range r.users {
		next[k] = v
	}
	next[id] = user
	return next
}
