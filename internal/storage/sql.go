package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// SQLBackend stores documents as rows of the documents table.
type SQLBackend struct {
	db *sqlx.DB
}

func NewSQLBackend(db *sqlx.DB) *SQLBackend {
	return &SQLBackend{db: db}
}

func (b *SQLBackend) Load(ctx context.Context, name string) ([]byte, error) {
	const query = `SELECT body FROM documents WHERE name = ?`
	var body string
	if err := b.db.GetContext(ctx, &body, query, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load document %s: %w", name, err)
	}
	return []byte(body), nil
}

func (b *SQLBackend) Save(ctx context.Context, name string, data []byte) error {
	const query = `
INSERT INTO documents (name, body)
VALUES (?, ?)
ON DUPLICATE KEY UPDATE body = VALUES(body), updated_at = NOW()`
	if _, err := b.db.ExecContext(ctx, query, name, string(data)); err != nil {
		return fmt.Errorf("upsert document %s: %w", name, err)
	}
	return nil
}

func (b *SQLBackend) List(ctx context.Context) ([]string, error) {
	const query = `SELECT name FROM documents ORDER BY name ASC`
	var names []string
	if err := b.db.SelectContext(ctx, &names, query); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return names, nil
}
