package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/pinboard/internal/apperr"
	"github.com/starford/pinboard/internal/checksum"
	"github.com/starford/pinboard/internal/document"
	"github.com/starford/pinboard/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS cards (
	id          TEXT PRIMARY KEY,
	rev         TEXT NOT NULL,
	doc         TEXT NOT NULL,
	modified_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_cards_modified ON cards(modified_at);
`

// SQLite stores one JSON document per card in a single table.
type SQLite struct {
	conn   *sql.DB
	logger *slog.Logger
}

var _ Engine = (*SQLite)(nil)

// OpenSQLite opens (or creates) the database at dsn and applies the schema.
func OpenSQLite(dsn string, logger *slog.Logger) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &SQLite{conn: conn, logger: logger}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

// Get returns the card stored under id.
func (s *SQLite) Get(ctx context.Context, id models.CardID) (models.CardProp, models.Revision, error) {
	var rev, raw string
	err := s.conn.QueryRowContext(ctx, `SELECT rev, doc FROM cards WHERE id = ?`, string(id)).Scan(&rev, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CardProp{}, "", apperr.ErrNotFound
	}
	if err != nil {
		return models.CardProp{}, "", apperr.Transport("get", err)
	}
	doc, err := document.UnmarshalJSON([]byte(raw))
	if err != nil {
		return models.CardProp{}, "", &apperr.CorruptError{ID: string(id), Err: err}
	}
	doc.ID = string(id)
	prop, missing := doc.ToProp(time.Now())
	logMissing(s.logger, id, missing)
	return prop, models.Revision(rev), nil
}

// Revision returns the stored revision of id without decoding the document.
func (s *SQLite) Revision(ctx context.Context, id models.CardID) (models.Revision, error) {
	var rev string
	err := s.conn.QueryRowContext(ctx, `SELECT rev FROM cards WHERE id = ?`, string(id)).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.ErrNotFound
	}
	if err != nil {
		return "", apperr.Transport("revision", err)
	}
	return models.Revision(rev), nil
}

// Put writes p inside a transaction that checks rev against the stored one.
func (s *SQLite) Put(ctx context.Context, p models.CardProp, rev models.Revision) (models.Revision, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", apperr.Transport("begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	var current string
	err = tx.QueryRowContext(ctx, `SELECT rev FROM cards WHERE id = ?`, string(p.ID)).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", apperr.Transport("read revision", err)
	}
	if current != string(rev) {
		return "", &apperr.ConflictError{ID: string(p.ID), ExpectedRevision: string(rev), CurrentRevision: current}
	}

	body, err := document.MarshalJSON(document.FromProp(p, ""))
	if err != nil {
		return "", err
	}
	next := checksum.NextRevision(current, body)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cards (id, rev, doc, modified_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			rev         = excluded.rev,
			doc         = excluded.doc,
			modified_at = excluded.modified_at
	`, string(p.ID), next, string(body), p.ModifiedAt.UTC())
	if err != nil {
		return "", apperr.Transport("put", err)
	}
	if err := tx.Commit(); err != nil {
		return "", apperr.Transport("commit", err)
	}
	return models.Revision(next), nil
}

// Delete removes the card stored under id.
func (s *SQLite) Delete(ctx context.Context, id models.CardID) error {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM cards WHERE id = ?`, string(id))
	if err != nil {
		return apperr.Transport("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Transport("delete", err)
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// ListIDs returns every stored id, oldest modification first.
func (s *SQLite) ListIDs(ctx context.Context) ([]models.CardID, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT id FROM cards ORDER BY modified_at, id`)
	if err != nil {
		return nil, apperr.Transport("list", err)
	}
	defer rows.Close()

	var out []models.CardID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Transport("list", err)
		}
		out = append(out, models.CardID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transport("list", err)
	}
	return out, nil
}
