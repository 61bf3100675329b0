package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"gatekeeper/internal/captcha/models"
)

// SQLiteStore persists settings in a single-node SQLite database.
type SQLiteStore struct {
	db *sql.DB
	// Serializes writers to avoid SQLITE_BUSY under concurrent admin calls.
	writeMu sync.Mutex
}

// NewSQLite opens (creating if needed) the database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS chat_settings (
		chat_id INTEGER PRIMARY KEY,
		policy TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS group_statistics (
		chat_id INTEGER NOT NULL,
		recorded_at INTEGER NOT NULL,
		member_count INTEGER NOT NULL,
		PRIMARY KEY (chat_id, recorded_at)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetPolicy(ctx context.Context, chatID int64) (*models.Policy, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT policy FROM chat_settings WHERE chat_id = ?`, chatID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get policy: %w", err)
	}
	var policy models.Policy
	if err := json.Unmarshal([]byte(raw), &policy); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	return &policy, nil
}

func (s *SQLiteStore) SavePolicy(ctx context.Context, chatID int64, policy models.Policy) error {
	raw, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("encode policy: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_settings (chat_id, policy, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET policy = excluded.policy, updated_at = excluded.updated_at
	`, chatID, string(raw), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save policy: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListChats(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id FROM chat_settings ORDER BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()
	var chats []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, id)
	}
	return chats, rows.Err()
}

func (s *SQLiteStore) RecordMemberCount(ctx context.Context, chatID int64, count int, at time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO group_statistics (chat_id, recorded_at, member_count) VALUES (?, ?, ?)
		ON CONFLICT(chat_id, recorded_at) DO UPDATE SET member_count = excluded.member_count
	`, chatID, at.UnixMilli(), count)
	if err != nil {
		return fmt.Errorf("record member count: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MemberCounts(ctx context.Context, chatID int64, limit int) ([]models.GroupStatistic, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, recorded_at, member_count FROM group_statistics
		WHERE chat_id = ? ORDER BY recorded_at DESC LIMIT ?
	`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("list member counts: %w", err)
	}
	defer rows.Close()
	var out []models.GroupStatistic
	for rows.Next() {
		var (
			stat       models.GroupStatistic
			recordedAt int64
		)
		if err := rows.Scan(&stat.ChatID, &recordedAt, &stat.MemberCount); err != nil {
			return nil, fmt.Errorf("scan member count: %w", err)
		}
		stat.RecordedAt = time.UnixMilli(recordedAt).UTC()
		out = append(out, stat)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
