package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/digkill/TGKeyBot/internal/models"
	"github.com/digkill/TGKeyBot/internal/storage"
)

// KeyRepository owns the ledger of outstanding keys.
type KeyRepository struct {
	store  *storage.Store
	mu     sync.RWMutex
	ledger models.Ledger
}

func NewKeyRepository(ctx context.Context, store *storage.Store) (*KeyRepository, error) {
	ledger := models.NewLedger()
	if err := store.Load(ctx, storage.DocumentKeys, &ledger); err != nil {
		return nil, fmt.Errorf("load keys: %w", err)
	}
	if ledger.Credits == nil {
		ledger.Credits = make(map[string]int)
	}
	if ledger.Subscriptions == nil {
		ledger.Subscriptions = make(map[string]int)
	}
	return &KeyRepository{store: store, ledger: ledger}, nil
}

func (r *KeyRepository) Exists(code string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ledger.Lookup(code)
	return ok
}

func (r *KeyRepository) GetByCode(code string) (models.IssuedKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ledger.Lookup(code)
}

// Insert adds keys to their partitions and saves the ledger once.
func (r *KeyRepository) Insert(ctx context.Context, keys []models.IssuedKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.ledger.Clone()
	for _, k := range keys {
		if _, exists := next.Lookup(k.Code); exists {
			return fmt.Errorf("insert key %s: duplicate code", k.Code)
		}
		next.Partition(k.Kind)[k.Code] = k.Value
	}
	if err := r.store.Save(ctx, storage.DocumentKeys, next); err != nil {
		return fmt.Errorf("insert keys: %w", err)
	}
	r.ledger = next
	return nil
}

// Remove deletes the code from the ledger and saves it. It reports false when
// the code is not outstanding.
func (r *KeyRepository) Remove(ctx context.Context, code string) (models.IssuedKey, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.ledger.Lookup(code)
	if !ok {
		return models.IssuedKey{}, false, nil
	}
	next := r.ledger.Clone()
	delete(next.Partition(key.Kind), code)
	if err := r.store.Save(ctx, storage.DocumentKeys, next); err != nil {
		return models.IssuedKey{}, false, fmt.Errorf("remove key: %w", err)
	}
	r.ledger = next
	return key, true, nil
}

// Restore puts a removed key back. The in-memory ledger is restored even
// when the save fails, so the key is still redeemable in this process.
func (r *KeyRepository) Restore(ctx context.Context, key models.IssuedKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ledger.Partition(key.Kind)[key.Code] = key.Value
	if err := r.store.Save(ctx, storage.DocumentKeys, r.ledger); err != nil {
		return fmt.Errorf("restore key: %w", err)
	}
	return nil
}

// List returns sorted outstanding codes per partition.
func (r *KeyRepository) List() (credits, subscriptions []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedCodes(r.ledger.Credits), sortedCodes(r.ledger.Subscriptions)
}

func sortedCodes(m map[string]int) []string {
	codes := make([]string, 0, len(m))
	for code := range m {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
