package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/turnstile/pkg/auth"
)

func (s *Store) SaveRefresh(ctx context.Context, record *auth.RefreshRecord) error {
	query := s.rebind(`INSERT INTO refresh_tokens (id, subject, expires_at, created_at) VALUES (?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, record.ID, record.Subject, record.ExpiresAt.UTC(), record.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert refresh token: %w", err)
	}
	return nil
}

func (s *Store) FindRefresh(ctx context.Context, id string) (*auth.RefreshRecord, error) {
	query := s.rebind(`SELECT id, subject, expires_at, created_at FROM refresh_tokens WHERE id = ?`)

	var r auth.RefreshRecord
	err := s.db.QueryRowContext(ctx, query, id).Scan(&r.ID, &r.Subject, &r.ExpiresAt, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query refresh token: %w", err)
	}
	return &r, nil
}

// DeleteRefresh reports whether this call removed the record, so only one of
// two concurrent rotations succeeds
func (s *Store) DeleteRefresh(ctx context.Context, id string) (bool, error) {
	n, err := execAffected(ctx, s.db, s.rebind(`DELETE FROM refresh_tokens WHERE id = ?`), id)
	if err != nil {
		return false, fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return n > 0, nil
}

func (s *Store) DeleteRefreshBySubject(ctx context.Context, subject string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM refresh_tokens WHERE subject = ?`), subject); err != nil {
		return fmt.Errorf("failed to delete refresh tokens: %w", err)
	}
	return nil
}

func (s *Store) DeleteExpiredRefresh(ctx context.Context, now time.Time) (int64, error) {
	n, err := execAffected(ctx, s.db, s.rebind(`DELETE FROM refresh_tokens WHERE expires_at <= ?`), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired refresh tokens: %w", err)
	}
	return n, nil
}
