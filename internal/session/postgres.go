package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps each session as a JSONB blob in user_sessions.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPostgresStore(log *slog.Logger, pool *pgxpool.Pool) *PostgresStore {
	if log == nil {
		log = slog.Default()
	}
	return &PostgresStore{
		pool:   pool,
		logger: log.With(slog.String("store", "session_postgres")),
	}
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (Session, error) {
	userID = strings.TrimSpace(userID)
	var (
		raw       []byte
		updatedAt time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT session_data, updated_at FROM user_sessions WHERE user_id = $1`, userID,
	).Scan(&raw, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return New(userID), nil
		}
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	sess, ok := decode(raw, userID)
	if !ok {
		s.logger.Warn("corrupt session data, using default", slog.String("user_id", userID))
		return New(userID), nil
	}
	sess.UpdatedAt = updatedAt
	return sess, nil
}

func (s *PostgresStore) Put(ctx context.Context, sess Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO user_sessions (user_id, session_data, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (user_id) DO UPDATE
		SET session_data = EXCLUDED.session_data, updated_at = now()`,
		strings.TrimSpace(sess.UserID), raw,
	)
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// decode parses stored session JSON. Unknown steps are kept so the engine can
// treat them as a greeting; undecodable blobs are reported as not ok.
func decode(raw []byte, userID string) (Session, bool) {
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return Session{}, false
	}
	sess.UserID = userID
	if sess.Step == "" {
		sess.Step = StepGreeting
	}
	return sess, true
}
