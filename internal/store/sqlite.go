package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/capitalize-ai/call-negotiator/internal/model"
	"github.com/capitalize-ai/call-negotiator/pkg/logger"
)

const activePointer = "active"

// SQLiteStore keeps session envelopes in a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewSQLiteStore opens (or creates) the database at path. Parent
// directories are created if needed.
func NewSQLiteStore(path string, log *logger.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = logger.Global()
	}
	log = log.Component("store")

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer keeps the debounced flushes serialised.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: log}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	log.Info("SQLite session store initialized", zap.String("path", path))
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			session_id     TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			mode           TEXT NOT NULL,
			revision       INTEGER NOT NULL,
			task_ids       TEXT NOT NULL,
			updated_at     TEXT NOT NULL,
			data           BLOB NOT NULL
		);

		CREATE TABLE IF NOT EXISTS session_pointer (
			name       TEXT PRIMARY KEY,
			session_id TEXT NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save upserts the envelope. A stale revision never overwrites a newer one.
func (s *SQLiteStore) Save(ctx context.Context, env model.Envelope) error {
	taskIDs, err := json.Marshal(env.TaskIDs)
	if err != nil {
		return fmt.Errorf("encoding task ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, schema_version, mode, revision, task_ids, updated_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			schema_version = excluded.schema_version,
			mode           = excluded.mode,
			revision       = excluded.revision,
			task_ids       = excluded.task_ids,
			updated_at     = excluded.updated_at,
			data           = excluded.data
		WHERE excluded.revision >= sessions.revision`,
		env.SessionID,
		env.SchemaVersion,
		string(env.Mode),
		env.Revision,
		string(taskIDs),
		env.UpdatedAt.UTC().Format(time.RFC3339Nano),
		[]byte(env.Data),
	)
	if err != nil {
		return fmt.Errorf("saving session %s: %w", env.SessionID, err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (model.Envelope, error) {
	var (
		env       model.Envelope
		mode      string
		taskIDs   string
		updatedAt string
		data      []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, schema_version, mode, revision, task_ids, updated_at, data
		FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&env.SessionID, &env.SchemaVersion, &mode, &env.Revision, &taskIDs, &updatedAt, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Envelope{}, ErrNotFound
	}
	if err != nil {
		return model.Envelope{}, fmt.Errorf("loading session %s: %w", sessionID, err)
	}

	if err := checkVersion(env); err != nil {
		return model.Envelope{}, err
	}

	env.Mode = model.SessionMode(mode)
	env.Data = json.RawMessage(data)
	if err := json.Unmarshal([]byte(taskIDs), &env.TaskIDs); err != nil {
		return model.Envelope{}, fmt.Errorf("decoding task ids: %w", err)
	}
	if env.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return model.Envelope{}, fmt.Errorf("decoding updated_at: %w", err)
	}
	return env, nil
}

func (s *SQLiteStore) SetActive(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_pointer (name, session_id) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET session_id = excluded.session_id`,
		activePointer, sessionID,
	)
	if err != nil {
		return fmt.Errorf("setting active session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Active(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id FROM session_pointer WHERE name = ?`, activePointer,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading active session: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("deleting session %s: %w", sessionID, err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
