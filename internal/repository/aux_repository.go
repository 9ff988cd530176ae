package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/digkill/TGKeyBot/internal/storage"
)

// AuxRepository holds free-form data owned by plugin modules. Entries it does
// not understand are saved back unchanged.
type AuxRepository struct {
	store   *storage.Store
	mu      sync.Mutex
	entries map[string]json.RawMessage
}

func NewAuxRepository(ctx context.Context, store *storage.Store) (*AuxRepository, error) {
	entries := make(map[string]json.RawMessage)
	if err := store.Load(ctx, storage.DocumentAux, &entries); err != nil {
		return nil, fmt.Errorf("load aux storage: %w", err)
	}
	return &AuxRepository{store: store, entries: entries}, nil
}

// Get decodes the entry stored under key into v and reports whether it existed.
func (r *AuxRepository) Get(key string, v any) (bool, error) {
	r.mu.Lock()
	raw, ok := r.entries[key]
	r.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("decode aux %s: %w", key, err)
	}
	return true, nil
}

func (r *AuxRepository) Set(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode aux %s: %w", key, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	next := make(map[string]json.RawMessage, len(r.entries)+1)
	for k, e := range r.entries {
		next[k] = e
	}
	next[key] = raw
	if err := r.store.Save(ctx, storage.DocumentAux, next); err != nil {
		return fmt.Errorf("save aux %s: %w", key, err)
	}
	r.entries = next
	return nil
}
