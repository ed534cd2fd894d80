package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lukahq/dialogcore/pkg/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	thread_id  TEXT PRIMARY KEY,
	turn       INTEGER NOT NULL,
	state      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);`

// SQLiteStore persists one row per thread in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint sqlite: open: %w", err)
	}
	// SQLite handles one writer at a time; serialize through one conn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("checkpoint sqlite: init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, threadID string) (*models.ConversationState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM checkpoints WHERE thread_id = ?`, threadID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint sqlite: load %s: %w", threadID, err)
	}

	var state models.ConversationState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("checkpoint sqlite: decode %s: %w", threadID, err)
	}
	return &state, nil
}

// Save implements Store. Upserts the full snapshot.
func (s *SQLiteStore) Save(ctx context.Context, threadID string, state *models.ConversationState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("checkpoint sqlite: encode %s: %w", threadID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (thread_id, turn, state, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			turn = excluded.turn,
			state = excluded.state,
			updated_at = excluded.updated_at`,
		threadID, state.Turn, string(raw), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("checkpoint sqlite: save %s: %w", threadID, err)
	}
	return nil
}
