package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iamwavecut/modbot/internal/db"
)

const appealColumns = `id, user_id, text, status, admin_id, response, created_at, updated_at`

func (s *sqliteClient) CreateAppeal(ctx context.Context, appeal *db.Appeal) (*db.Appeal, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO appeals (user_id, text, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, appeal.UserID, appeal.Text, db.AppealPending, appeal.CreatedAt, appeal.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, db.ErrPendingAppealExists
		}
		return nil, fmt.Errorf("failed to create appeal: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get appeal id: %w", err)
	}
	appeal.ID = id
	appeal.Status = db.AppealPending
	appeal.UpdatedAt = appeal.CreatedAt
	return appeal, nil
}

func (s *sqliteClient) GetAppeal(ctx context.Context, id int64) (*db.Appeal, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var appeal db.Appeal
	err := s.db.GetContext(ctx, &appeal, `SELECT `+appealColumns+` FROM appeals WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get appeal: %w", err)
	}
	return &appeal, nil
}

func (s *sqliteClient) GetPendingAppeal(ctx context.Context, userID int64) (*db.Appeal, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var appeal db.Appeal
	err := s.db.GetContext(ctx, &appeal, `
		SELECT `+appealColumns+` FROM appeals
		WHERE user_id = ? AND status = ?
		LIMIT 1
	`, userID, db.AppealPending)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending appeal: %w", err)
	}
	return &appeal, nil
}

func (s *sqliteClient) ResolveAppeal(ctx context.Context, id int64, status db.AppealStatus, adminID int64, response string, at time.Time) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	result, err := s.db.ExecContext(ctx, `
		UPDATE appeals
		SET status = ?, admin_id = ?, response = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, status, adminID, response, at, id, db.AppealPending)
	if err != nil {
		return false, fmt.Errorf("failed to resolve appeal: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected == 1, nil
}

func (s *sqliteClient) ListPendingAppeals(ctx context.Context, limit int) ([]*db.Appeal, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var appeals []*db.Appeal
	err := s.db.SelectContext(ctx, &appeals, `
		SELECT `+appealColumns+` FROM appeals
		WHERE status = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, db.AppealPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending appeals: %w", err)
	}
	return appeals, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
