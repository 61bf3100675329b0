package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gatekeeper/internal/captcha/models"
)

// PostgresStore persists settings in chat_settings and group_statistics.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetPolicy(ctx context.Context, chatID int64) (*models.Policy, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT policy FROM chat_settings WHERE chat_id = $1`, chatID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get policy: %w", err)
	}
	var policy models.Policy
	if err := json.Unmarshal(raw, &policy); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	return &policy, nil
}

func (s *PostgresStore) SavePolicy(ctx context.Context, chatID int64, policy models.Policy) error {
	raw, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("encode policy: %w", err)
	}
	query := `
		INSERT INTO chat_settings (chat_id, policy, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (chat_id) DO UPDATE SET
			policy = EXCLUDED.policy,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, chatID, raw); err != nil {
		return fmt.Errorf("save policy: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListChats(ctx context.Context) ([]int64, error) {
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

func (s *PostgresStore) RecordMemberCount(ctx context.Context, chatID int64, count int, at time.Time) error {
	query := `
		INSERT INTO group_statistics (chat_id, recorded_at, member_count)
		VALUES ($1, $2, $3)
		ON CONFLICT (chat_id, recorded_at) DO UPDATE SET member_count = EXCLUDED.member_count
	`
	if _, err := s.db.ExecContext(ctx, query, chatID, at, count); err != nil {
		return fmt.Errorf("record member count: %w", err)
	}
	return nil
}

func (s *PostgresStore) MemberCounts(ctx context.Context, chatID int64, limit int) ([]models.GroupStatistic, error) {
	query := `
		SELECT chat_id, recorded_at, member_count FROM group_statistics
		WHERE chat_id = $1 ORDER BY recorded_at DESC
	`
	args := []any{chatID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list member counts: %w", err)
	}
	defer rows.Close()
	var out []models.GroupStatistic
	for rows.Next() {
		var stat models.GroupStatistic
		if err := rows.Scan(&stat.ChatID, &stat.RecordedAt, &stat.MemberCount); err != nil {
			return nil, fmt.Errorf("scan member count: %w", err)
		}
		out = append(out, stat)
	}
	return out, rows.Err()
}
