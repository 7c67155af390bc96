package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iamwavecut/tool"

	"github.com/iamwavecut/modbot/internal/db"
)

const userColumns = `id, username, first_name, history, spam_violations, warnings, link_violations,
	trust_level, trust_pinned, is_banned, ban_until, joined_at, message_count, last_message_at,
	created_at, updated_at`

func (s *sqliteClient) GetUser(ctx context.Context, userID int64) (*db.UserState, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var user db.UserState
	err := s.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func (s *sqliteClient) UpsertUser(ctx context.Context, user *db.UserState) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if user.CreatedAt.IsZero() {
		user.CreatedAt = user.UpdatedAt
	}
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES (:id, :username, :first_name, :history, :spam_violations, :warnings, :link_violations,
			:trust_level, :trust_pinned, :is_banned, :ban_until, :joined_at, :message_count, :last_message_at,
			:created_at, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			first_name = excluded.first_name,
			history = excluded.history,
			spam_violations = excluded.spam_violations,
			warnings = excluded.warnings,
			link_violations = excluded.link_violations,
			trust_level = excluded.trust_level,
			trust_pinned = excluded.trust_pinned,
			is_banned = excluded.is_banned,
			ban_until = excluded.ban_until,
			joined_at = excluded.joined_at,
			message_count = excluded.message_count,
			last_message_at = excluded.last_message_at,
			updated_at = excluded.updated_at
	`
	if err := tool.Err(s.db.NamedExecContext(ctx, query, user)); err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

func (s *sqliteClient) ListUsers(ctx context.Context) ([]*db.UserState, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var users []*db.UserState
	if err := s.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (s *sqliteClient) ListExpiredBans(ctx context.Context, now time.Time) ([]int64, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var banned []struct {
		ID       int64     `db:"id"`
		BanUntil time.Time `db:"ban_until"`
	}
	err := s.db.SelectContext(ctx, &banned, `
		SELECT id, ban_until FROM users
		WHERE is_banned = 1 AND ban_until IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list banned users: %w", err)
	}

	var expired []int64
	for _, b := range banned {
		if !b.BanUntil.After(now) {
			expired = append(expired, b.ID)
		}
	}
	return expired, nil
}

func (s *sqliteClient) ListInactiveUsers(ctx context.Context, before time.Time) ([]int64, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var candidates []struct {
		ID            int64     `db:"id"`
		LastMessageAt time.Time `db:"last_message_at"`
	}
	err := s.db.SelectContext(ctx, &candidates, `
		SELECT id, last_message_at FROM users
		WHERE last_message_at IS NOT NULL AND history <> '[]'
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list inactive users: %w", err)
	}

	var inactive []int64
	for _, c := range candidates {
		if c.LastMessageAt.Before(before) {
			inactive = append(inactive, c.ID)
		}
	}
	return inactive, nil
}
