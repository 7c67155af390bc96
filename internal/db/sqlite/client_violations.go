package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/iamwavecut/modbot/internal/db"
)

const topViolationTypesLimit = 5

func (s *sqliteClient) AddViolation(ctx context.Context, record *db.ViolationRecord) (*db.ViolationRecord, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	query := `
		INSERT INTO violations (user_id, message_id, class, subtype, excerpt, action, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		record.UserID,
		record.MessageID,
		record.Class,
		record.Subtype,
		db.Excerpt(record.Excerpt),
		record.Action,
		record.Confidence,
		record.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to add violation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get violation id: %w", err)
	}
	record.ID = id
	return record, nil
}

func (s *sqliteClient) ListViolations(ctx context.Context, userID int64, limit int) ([]*db.ViolationRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var records []*db.ViolationRecord
	err := s.db.SelectContext(ctx, &records, `
		SELECT id, user_id, message_id, class, subtype, excerpt, action, confidence, created_at
		FROM violations
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list violations: %w", err)
	}
	return records, nil
}

func (s *sqliteClient) CountStats(ctx context.Context, since time.Time) (*db.Stats, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	stats := &db.Stats{TrustLevels: map[db.TrustLevel]int{}}

	if err := s.db.GetContext(ctx, &stats.TotalUsers, `SELECT COUNT(*) FROM users`); err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}
	if err := s.db.GetContext(ctx, &stats.BannedUsers, `SELECT COUNT(*) FROM users WHERE is_banned = 1`); err != nil {
		return nil, fmt.Errorf("failed to count banned users: %w", err)
	}
	if err := s.db.GetContext(ctx, &stats.TotalViolations, `SELECT COUNT(*) FROM violations`); err != nil {
		return nil, fmt.Errorf("failed to count violations: %w", err)
	}
	if err := s.db.GetContext(ctx, &stats.RecentViolations,
		`SELECT COUNT(*) FROM violations WHERE created_at >= ?`, since.UTC()); err != nil {
		return nil, fmt.Errorf("failed to count recent violations: %w", err)
	}

	err := s.db.SelectContext(ctx, &stats.TopViolationTypes, `
		SELECT CASE WHEN subtype = '' THEN class ELSE class || ':' || subtype END AS type, COUNT(*) AS count
		FROM violations
		GROUP BY type
		ORDER BY count DESC, type ASC
		LIMIT ?
	`, topViolationTypesLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list top violation types: %w", err)
	}

	var levels []struct {
		Level db.TrustLevel `db:"trust_level"`
		Count int           `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &levels,
		`SELECT trust_level, COUNT(*) AS count FROM users GROUP BY trust_level`); err != nil {
		return nil, fmt.Errorf("failed to count trust levels: %w", err)
	}
	for _, l := range levels {
		stats.TrustLevels[l.Level] = l.Count
	}

	return stats, nil
}
