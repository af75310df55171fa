package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/slicebot/slicebot-backend/internal/models"
)

// SQLiteStore persists sessions in a single SQLite file
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and creates if needed) the database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// WAL keeps readers from blocking the single writer
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		identity TEXT PRIMARY KEY,
		state TEXT NOT NULL DEFAULT '',
		context TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS menu_cache (
		cache_key TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		created_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetState(ctx context.Context, id models.UserIdentity) (string, bool, error) {
	var state string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM sessions WHERE identity = ?`, string(id)).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("get state", err)
	}
	if state == "" {
		return "", false, nil
	}
	return state, true, nil
}

func (s *SQLiteStore) SetState(ctx context.Context, id models.UserIdentity, state models.SessionState) error {
	query := `
		INSERT INTO sessions (identity, state, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, string(id), string(state), time.Now().Unix()); err != nil {
		return unavailable("set state", err)
	}
	return nil
}

func (s *SQLiteStore) GetContext(ctx context.Context, id models.UserIdentity) (*models.SessionContext, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT context FROM sessions WHERE identity = ?`, string(id)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.SessionContext{}, nil
	}
	if err != nil {
		return nil, unavailable("get context", err)
	}
	return decodeContext(id, raw), nil
}

func (s *SQLiteStore) SetContext(ctx context.Context, id models.UserIdentity, sc *models.SessionContext) error {
	raw, err := encodeContext(sc)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO sessions (identity, context, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET context = excluded.context, updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, string(id), raw, time.Now().Unix()); err != nil {
		return unavailable("set context", err)
	}
	return nil
}

func (s *SQLiteStore) SaveSession(ctx context.Context, id models.UserIdentity, state models.SessionState, sc *models.SessionContext) error {
	raw, err := encodeContext(sc)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO sessions (identity, state, context, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			state = excluded.state, context = excluded.context, updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, string(id), string(state), raw, time.Now().Unix()); err != nil {
		return unavailable("save session", err)
	}
	return nil
}

func (s *SQLiteStore) GetMenu(ctx context.Context, key string) (*models.MenuCacheEntry, error) {
	var payload []byte
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `SELECT payload, created_at FROM menu_cache WHERE cache_key = ?`, key).Scan(&payload, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get menu", err)
	}
	return &models.MenuCacheEntry{
		Key:       key,
		Payload:   payload,
		CreatedAt: time.Unix(createdAt, 0),
	}, nil
}

func (s *SQLiteStore) PutMenu(ctx context.Context, entry *models.MenuCacheEntry) error {
	query := `
		INSERT INTO menu_cache (cache_key, payload, created_at) VALUES (?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET payload = excluded.payload, created_at = excluded.created_at`
	if _, err := s.db.ExecContext(ctx, query, entry.Key, entry.Payload, entry.CreatedAt.Unix()); err != nil {
		return unavailable("put menu", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
