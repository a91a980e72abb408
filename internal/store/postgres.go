package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"readback/api/internal/config"
	"readback/api/internal/content"
)

// DefaultDocumentID is the row that holds the single shared document.
const DefaultDocumentID = "default"

type PostgresStore struct {
	db         *sql.DB
	documentID string
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, documentID: DefaultDocumentID}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Kind() string {
	return config.StoragePostgres
}

func (s *PostgresStore) Load(ctx context.Context) (content.List, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT content FROM documents WHERE id = $1`, s.documentID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return content.List{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}

	var list content.List
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return list.Clone(), nil
}

func (s *PostgresStore) Save(ctx context.Context, list content.List) error {
	payload, err := json.Marshal(list.Clone())
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, content, fingerprint, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE
		SET content = EXCLUDED.content,
			fingerprint = EXCLUDED.fingerprint,
			updated_at = NOW()
	`, s.documentID, string(payload), string(list.Fingerprint()))
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
