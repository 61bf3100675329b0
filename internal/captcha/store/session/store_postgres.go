package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"gatekeeper/internal/captcha/models"
	"gatekeeper/pkg/platform/sentinel"
)

// PostgresStore persists sessions in the captcha_sessions table. It is pure
// I/O; transition rules live in the service.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const sessionColumns = `chat_id, user_id, display_name, question, accepted_answers, options,
	attempts, attempt_limit, strict, status, challenge_message, transient_messages, created_at`

func (s *PostgresStore) Create(ctx context.Context, session *models.Session) error {
	if session == nil {
		return fmt.Errorf("session is required")
	}
	query := `
		INSERT INTO captcha_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (chat_id, user_id) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query,
		session.ChatID,
		session.UserID,
		session.DisplayName,
		session.Question,
		pq.Array(nonNil(session.AcceptedAnswers)),
		pq.Array(nonNil(session.Options)),
		session.Attempts,
		session.AttemptLimit,
		session.Strict,
		string(session.Status),
		int64(session.ChallengeMessage),
		pq.Array(refsToInts(session.TransientMessages)),
		session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("create session rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("create session %d/%d: %w", session.ChatID, session.UserID, sentinel.ErrConflict)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key models.SessionKey) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM captcha_sessions WHERE chat_id = $1 AND user_id = $2`
	session, err := scanSession(s.db.QueryRowContext(ctx, query, key.ChatID, key.UserID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

func (s *PostgresStore) Update(ctx context.Context, session *models.Session) error {
	if session == nil {
		return fmt.Errorf("session is required")
	}
	query := `
		UPDATE captcha_sessions SET
			display_name = $3,
			question = $4,
			accepted_answers = $5,
			options = $6,
			attempts = $7,
			attempt_limit = $8,
			strict = $9,
			status = $10,
			challenge_message = $11,
			transient_messages = $12
		WHERE chat_id = $1 AND user_id = $2
	`
	result, err := s.db.ExecContext(ctx, query,
		session.ChatID,
		session.UserID,
		session.DisplayName,
		session.Question,
		pq.Array(nonNil(session.AcceptedAnswers)),
		pq.Array(nonNil(session.Options)),
		session.Attempts,
		session.AttemptLimit,
		session.Strict,
		string(session.Status),
		int64(session.ChallengeMessage),
		pq.Array(refsToInts(session.TransientMessages)),
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key models.SessionKey) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM captcha_sessions WHERE chat_id = $1 AND user_id = $2`,
		key.ChatID, key.UserID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCreatedBefore(ctx context.Context, cutoff time.Time) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM captcha_sessions WHERE created_at < $1 ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		session   models.Session
		status    string
		challenge int64
		answers   pq.StringArray
		options   pq.StringArray
		transient pq.Int64Array
	)
	if err := row.Scan(
		&session.ChatID,
		&session.UserID,
		&session.DisplayName,
		&session.Question,
		&answers,
		&options,
		&session.Attempts,
		&session.AttemptLimit,
		&session.Strict,
		&status,
		&challenge,
		&transient,
		&session.CreatedAt,
	); err != nil {
		return nil, err
	}
	session.Status = models.SessionStatus(status)
	session.ChallengeMessage = models.MessageRef(challenge)
	session.AcceptedAnswers = []string(answers)
	if len(options) > 0 {
		session.Options = []string(options)
	}
	for _, ref := range transient {
		session.TransientMessages = append(session.TransientMessages, models.MessageRef(ref))
	}
	return &session, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func refsToInts(refs []models.MessageRef) []int64 {
	out := make([]int64, 0, len(refs))
	for _, ref := range refs {
		out = append(out, int64(ref))
	}
	return out
}
