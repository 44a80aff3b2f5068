package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/storage"
)

const accountColumns = `id, name, email, password_hash, role, provider, enabled, created_at,
	verification_code, verification_expires_at, reset_code, reset_expires_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*auth.Account, error) {
	var (
		a            auth.Account
		role         string
		provider     string
		verifyExpiry sql.NullTime
		resetExpiry  sql.NullTime
	)
	err := row.Scan(&a.ID, &a.Name, &a.Email, &a.PasswordHash, &role, &provider, &a.Enabled, &a.CreatedAt,
		&a.VerificationCode, &verifyExpiry, &a.ResetCode, &resetExpiry)
	if err != nil {
		return nil, err
	}
	a.Role = auth.Role(role)
	a.Provider = auth.Provider(provider)
	if verifyExpiry.Valid {
		t := verifyExpiry.Time
		a.VerificationExpiresAt = &t
	}
	if resetExpiry.Valid {
		t := resetExpiry.Time
		a.ResetExpiresAt = &t
	}
	return &a, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func (s *Store) findAccount(ctx context.Context, where string, arg interface{}) (*auth.Account, error) {
	query := s.rebind(`SELECT ` + accountColumns + ` FROM accounts WHERE ` + where)
	account, err := scanAccount(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query account: %w", err)
	}
	return account, nil
}

// FindByEmail returns the account with the given email, or nil
func (s *Store) FindByEmail(ctx context.Context, email string) (*auth.Account, error) {
	return s.findAccount(ctx, `email = ?`, email)
}

// FindByID returns the account with the given id, or nil
func (s *Store) FindByID(ctx context.Context, id int64) (*auth.Account, error) {
	return s.findAccount(ctx, `id = ?`, id)
}

func (s *Store) ListAccounts(ctx context.Context) ([]*auth.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]*auth.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}
	return accounts, nil
}

func (s *Store) CreateAccount(ctx context.Context, account *auth.Account) error {
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}

	query := s.rebind(`
		INSERT INTO accounts (name, email, password_hash, role, provider, enabled, created_at,
			verification_code, verification_expires_at, reset_code, reset_expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)

	err := s.db.QueryRowContext(ctx, query,
		account.Name, account.Email, account.PasswordHash, string(account.Role), string(account.Provider),
		account.Enabled, account.CreatedAt.UTC(),
		account.VerificationCode, nullableTime(account.VerificationExpiresAt),
		account.ResetCode, nullableTime(account.ResetExpiresAt),
	).Scan(&account.ID)
	if isUniqueViolation(err) {
		return storage.ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

func (s *Store) SaveAccount(ctx context.Context, account *auth.Account) error {
	query := s.rebind(`
		UPDATE accounts
		SET name = ?, email = ?, password_hash = ?, role = ?, provider = ?, enabled = ?,
			verification_code = ?, verification_expires_at = ?, reset_code = ?, reset_expires_at = ?
		WHERE id = ?`)

	_, err := s.db.ExecContext(ctx, query,
		account.Name, account.Email, account.PasswordHash, string(account.Role), string(account.Provider),
		account.Enabled,
		account.VerificationCode, nullableTime(account.VerificationExpiresAt),
		account.ResetCode, nullableTime(account.ResetExpiresAt),
		account.ID,
	)
	if isUniqueViolation(err) {
		return storage.ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	return nil
}

// DeleteAccount removes the account, its usage record and its refresh tokens
// in one transaction
func (s *Store) DeleteAccount(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var email string
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT email FROM accounts WHERE id = ?`), id).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to query account: %w", err)
	}

	steps := []struct {
		query string
		arg   interface{}
	}{
		{`DELETE FROM refresh_tokens WHERE subject = ?`, email},
		{`DELETE FROM usage_records WHERE account_id = ?`, id},
		{`DELETE FROM accounts WHERE id = ?`, id},
	}
	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, s.rebind(step.query), step.arg); err != nil {
			return fmt.Errorf("failed to delete account %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit account deletion: %w", err)
	}
	return nil
}

// ClearExpiredCodes returns the number of codes cleared
func (s *Store) ClearExpiredCodes(ctx context.Context, now time.Time) (int64, error) {
	statements := []string{
		`UPDATE accounts SET verification_code = '', verification_expires_at = NULL
			WHERE verification_expires_at IS NOT NULL AND verification_expires_at < ?`,
		`UPDATE accounts SET reset_code = '', reset_expires_at = NULL
			WHERE reset_expires_at IS NOT NULL AND reset_expires_at < ?`,
	}

	var cleared int64
	for _, stmt := range statements {
		n, err := execAffected(ctx, s.db, s.rebind(stmt), now.UTC())
		if err != nil {
			return cleared, fmt.Errorf("failed to clear expired codes: %w", err)
		}
		cleared += n
	}
	return cleared, nil
}

func execAffected(ctx context.Context, db execer, query string, args ...interface{}) (int64, error) {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
