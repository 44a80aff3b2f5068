package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/turnstile/pkg/usage"
)

func (s *Store) FindUsage(ctx context.Context, accountID int64) (*usage.Record, error) {
	query := s.rebind(`
		SELECT account_id, tier, tier_selected, last_request_date, daily_count
		FROM usage_records WHERE account_id = ?`)

	var (
		r    usage.Record
		tier string
	)
	err := s.db.QueryRowContext(ctx, query, accountID).
		Scan(&r.AccountID, &tier, &r.TierSelected, &r.LastRequestDate, &r.DailyCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	r.Tier = usage.Tier(tier)
	return &r, nil
}

// CreateUsage inserts a record unless the account already has one
func (s *Store) CreateUsage(ctx context.Context, record *usage.Record) error {
	query := s.rebind(`
		INSERT INTO usage_records (account_id, tier, tier_selected, last_request_date, daily_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (account_id) DO NOTHING`)

	_, err := s.db.ExecContext(ctx, query,
		record.AccountID, string(record.Tier), record.TierSelected, record.LastRequestDate, record.DailyCount)
	if err != nil {
		return fmt.Errorf("failed to insert usage: %w", err)
	}
	return nil
}

func (s *Store) SetTier(ctx context.Context, accountID int64, tier usage.Tier) error {
	query := s.rebind(`UPDATE usage_records SET tier = ?, tier_selected = ? WHERE account_id = ?`)
	if _, err := s.db.ExecContext(ctx, query, string(tier), true, accountID); err != nil {
		return fmt.Errorf("failed to update tier: %w", err)
	}
	return nil
}

func (s *Store) ResetUsageIfStale(ctx context.Context, accountID int64, today string) (bool, error) {
	query := s.rebind(`
		UPDATE usage_records SET daily_count = 0, last_request_date = ?
		WHERE account_id = ? AND last_request_date < ?`)

	n, err := execAffected(ctx, s.db, query, today, accountID, today)
	if err != nil {
		return false, fmt.Errorf("failed to reset usage: %w", err)
	}
	return n > 0, nil
}

func (s *Store) IncrementUsageIfBelow(ctx context.Context, accountID int64, today string, limit int) (int, bool, error) {
	query := s.rebind(`
		UPDATE usage_records SET daily_count = daily_count + 1
		WHERE account_id = ? AND last_request_date = ? AND daily_count < ?
		RETURNING daily_count`)

	var count int
	err := s.db.QueryRowContext(ctx, query, accountID, today, limit).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to increment usage: %w", err)
	}
	return count, true, nil
}
