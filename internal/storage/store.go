package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Document names persisted by the bot.
const (
	DocumentUsers = "userdata"
	DocumentKeys  = "keys"
	DocumentAux   = "storage"
)

// ErrNotFound is returned by a Backend when a document was never saved.
var ErrNotFound = errors.New("document not found")

// Backend persists whole documents by name. Save must replace the previous
// content atomically: a concurrent or later Load never observes a partial write.
type Backend interface {
	Load(ctx context.Context, name string) ([]byte, error)
	Save(ctx context.Context, name string, data []byte) error
}

// Lister is implemented by backends that can enumerate stored documents.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// Store encodes documents as indented JSON on top of a Backend.
type Store struct {
	backend Backend
}

func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

func (s *Store) Backend() Backend {
	return s.backend
}

// Load decodes the named document into v. A missing document leaves v as is,
// so callers pass a pre-filled default.
func (s *Store) Load(ctx context.Context, name string, v any) error {
	data, err := s.backend.Load(ctx, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func (s *Store) Save(ctx context.Context, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := s.backend.Save(ctx, name, data); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}
