package auth

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// PasswordCost is the bcrypt cost used for new password hashes
const PasswordCost = bcrypt.DefaultCost

// HashPassword returns a bcrypt hash of the password
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Verifier checks presented credentials against a resolved account
type Verifier struct {
	now func() time.Time
}

// NewVerifier creates a verifier using the given clock (nil means time.Now)
func NewVerifier(now func() time.Time) *Verifier {
	if now == nil {
		now = time.Now
	}
	return &Verifier{now: now}
}

// VerifyPassword compares a password with the account's stored hash.
// Accounts without a password hash never match.
func (v *Verifier) VerifyPassword(account *Account, password string) error {
	if account == nil || !account.HasPassword() || password == "" {
		return ErrInvalidCredentials
	}
	err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrInvalidCredentials
	}
	if err != nil {
		return fmt.Errorf("failed to compare password hash: %w", err)
	}
	return nil
}

// ValidateToken re-checks decoded claims against the freshly resolved
// account: subject must match, the token must not be expired, and the
// account must still be enabled.
func (v *Verifier) ValidateToken(claims *Claims, account *Account) bool {
	if claims == nil || account == nil {
		return false
	}
	if claims.Subject == "" || claims.Subject != account.Email {
		return false
	}
	if !v.now().Before(claims.ExpiresAt) {
		return false
	}
	return account.Enabled
}
