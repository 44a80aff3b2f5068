package accounts

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/platinummonkey/turnstile/pkg/async"
	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/observability"
	"github.com/platinummonkey/turnstile/pkg/storage"
	"github.com/platinummonkey/turnstile/pkg/usage"
)

const (
	// DefaultCodeTTL is how long verification and reset codes stay valid
	DefaultCodeTTL = 15 * time.Minute

	mailTimeout = 30 * time.Second
)

// Store is the persistence the account service needs
type Store interface {
	storage.AccountStore
	CreateUsage(ctx context.Context, record *usage.Record) error
}

// RegisterRequest holds the fields of a local sign-up
type RegisterRequest struct {
	Name     string
	Email    string
	Password string
}

// Service implements local registration, login, password reset and
// account administration
type Service struct {
	store    Store
	issuer   *auth.Issuer
	verifier *auth.Verifier
	mailer   Mailer
	tasks    *async.Tracker
	metrics  *observability.Metrics
	now      func() time.Time
	codeTTL  time.Duration
}

// Option configures a Service
type Option func(*Service)

// WithClock overrides the clock used for code expiry
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTracker runs mail delivery on a shared tracker so shutdown can wait for it
func WithTracker(tasks *async.Tracker) Option {
	return func(s *Service) {
		if tasks != nil {
			s.tasks = tasks
		}
	}
}

// WithMetrics records login outcomes
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Service) { s.metrics = metrics }
}

// WithCodeTTL overrides DefaultCodeTTL
func WithCodeTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.codeTTL = ttl
		}
	}
}

// NewService creates the account service. A nil mailer logs codes.
func NewService(store Store, issuer *auth.Issuer, mailer Mailer, opts ...Option) *Service {
	if mailer == nil {
		mailer = NewLogMailer(nil)
	}
	s := &Service{
		store:   store,
		issuer:  issuer,
		mailer:  mailer,
		tasks:   async.NewTracker(),
		now:     time.Now,
		codeTTL: DefaultCodeTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.verifier = auth.NewVerifier(s.now)
	return s
}

// Register creates a disabled local account and mails its verification code
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*auth.Account, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" || req.Email == "" || req.Password == "" {
		return nil, ErrInvalidInput
	}

	existing, err := s.store.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	code, expires, err := s.newCode()
	if err != nil {
		return nil, err
	}

	account := &auth.Account{
		Name:                  req.Name,
		Email:                 req.Email,
		PasswordHash:          hash,
		Role:                  auth.RoleUser,
		Provider:              auth.ProviderLocal,
		Enabled:               false,
		VerificationCode:      code,
		VerificationExpiresAt: &expires,
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, storage.ErrDuplicateEmail) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	err = s.store.CreateUsage(ctx, &usage.Record{
		AccountID:       account.ID,
		Tier:            usage.TierFree,
		LastRequestDate: s.now().UTC().Format(usage.DateLayout),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create usage record: %w", err)
	}

	s.sendVerification(ctx, account)
	return account, nil
}

// Verify enables the account when code matches its pending verification code
func (s *Service) Verify(ctx context.Context, email, code string) error {
	account, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to look up account: %w", err)
	}
	if account == nil {
		return ErrInvalidCode
	}
	if account.Enabled && account.VerificationCode == "" {
		return nil
	}
	if err := s.checkCode(account.VerificationCode, account.VerificationExpiresAt, code); err != nil {
		return err
	}

	account.Enabled = true
	account.VerificationCode = ""
	account.VerificationExpiresAt = nil
	if err := s.store.SaveAccount(ctx, account); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	observability.FromContext(ctx).WithField("email", email).Info("Account verified")
	return nil
}

// ResendVerification issues a fresh verification code. Unknown and already
// enabled accounts are a silent no-op.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	account, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to look up account: %w", err)
	}
	if account == nil || account.Enabled {
		return nil
	}

	code, expires, err := s.newCode()
	if err != nil {
		return err
	}
	account.VerificationCode = code
	account.VerificationExpiresAt = &expires
	if err := s.store.SaveAccount(ctx, account); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}

	s.sendVerification(ctx, account)
	return nil
}

// Login checks a password and issues a token pair. Unknown emails and wrong
// passwords are indistinguishable.
func (s *Service) Login(ctx context.Context, email, password string) (*auth.TokenPair, *auth.Account, error) {
	pair, account, err := s.login(ctx, strings.TrimSpace(email), password)
	s.metrics.RecordLogin(loginResult(err))
	return pair, account, err
}

func (s *Service) login(ctx context.Context, email, password string) (*auth.TokenPair, *auth.Account, error) {
	account, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up account: %w", err)
	}
	if account == nil {
		return nil, nil, auth.ErrInvalidCredentials
	}
	if !account.HasPassword() && account.Provider != auth.ProviderLocal {
		return nil, nil, &UseProviderError{Provider: account.Provider}
	}
	if err := s.verifier.VerifyPassword(account, password); err != nil {
		return nil, nil, err
	}
	if !account.Enabled {
		return nil, nil, auth.ErrAccountDisabled
	}

	pair, err := s.issuer.IssuePair(ctx, account)
	if err != nil {
		return nil, nil, err
	}
	return pair, account, nil
}

func loginResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, auth.ErrAccountDisabled):
		return "disabled"
	case errors.Is(err, ErrUseProvider):
		return "use_provider"
	default:
		return "error"
	}
}

// RequestPasswordReset mails a reset code. Unknown emails and accounts
// without a password succeed without doing anything.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	account, err := s.store.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return fmt.Errorf("failed to look up account: %w", err)
	}
	if account == nil || account.Provider != auth.ProviderLocal {
		return nil
	}

	code, expires, err := s.newCode()
	if err != nil {
		return err
	}
	account.ResetCode = code
	account.ResetExpiresAt = &expires
	if err := s.store.SaveAccount(ctx, account); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}

	to := account.Email
	s.tasks.Go(ctx, mailTimeout, "password reset mail", func(ctx context.Context) error {
		return s.mailer.SendPasswordReset(ctx, to, code)
	})
	return nil
}

// ResetPassword replaces the password and revokes every refresh token of
// the account
func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if newPassword == "" {
		return ErrInvalidInput
	}
	account, err := s.store.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return fmt.Errorf("failed to look up account: %w", err)
	}
	if account == nil {
		return ErrInvalidCode
	}
	if err := s.checkCode(account.ResetCode, account.ResetExpiresAt, code); err != nil {
		return err
	}

	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	account.PasswordHash = hash
	account.ResetCode = ""
	account.ResetExpiresAt = nil
	if err := s.store.SaveAccount(ctx, account); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}

	if err := s.issuer.RevokeAll(ctx, account.Email); err != nil {
		return err
	}
	observability.FromContext(ctx).WithField("email", account.Email).Info("Password reset")
	return nil
}

// ListAccounts returns every account
func (s *Service) ListAccounts(ctx context.Context) ([]*auth.Account, error) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// ChangeRole sets the role of another account
func (s *Service) ChangeRole(ctx context.Context, actorEmail string, id int64, role auth.Role) (*auth.Account, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	account, err := s.target(ctx, actorEmail, id)
	if err != nil {
		return nil, err
	}

	account.Role = role
	if err := s.store.SaveAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to save account: %w", err)
	}
	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"target": account.Email,
		"role":   role,
	}).Info("Role changed")
	return account, nil
}

// DeleteAccount removes another account with its usage record and tokens
func (s *Service) DeleteAccount(ctx context.Context, actorEmail string, id int64) error {
	account, err := s.target(ctx, actorEmail, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteAccount(ctx, id); err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if err := s.issuer.RevokeAll(ctx, account.Email); err != nil {
		return err
	}
	observability.FromContext(ctx).WithField("target", account.Email).Info("Account deleted")
	return nil
}

// target loads the account an admin action applies to and refuses to let
// admins act on themselves
func (s *Service) target(ctx context.Context, actorEmail string, id int64) (*auth.Account, error) {
	account, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}
	if account == nil {
		return nil, ErrNotFound
	}
	if account.Email == actorEmail {
		return nil, ErrSelfAction
	}
	return account, nil
}

func (s *Service) sendVerification(ctx context.Context, account *auth.Account) {
	to, name, code := account.Email, account.Name, account.VerificationCode
	s.tasks.Go(ctx, mailTimeout, "verification mail", func(ctx context.Context) error {
		return s.mailer.SendVerification(ctx, to, name, code)
	})
}

func (s *Service) checkCode(stored string, expires *time.Time, presented string) error {
	if stored == "" || presented == "" ||
		subtle.ConstantTimeCompare([]byte(stored), []byte(strings.TrimSpace(presented))) != 1 {
		return ErrInvalidCode
	}
	if expires != nil && !s.now().Before(*expires) {
		return ErrCodeExpired
	}
	return nil
}

// newCode returns a random 6-digit code and its expiry
func (s *Service) newCode() (string, time.Time, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), s.now().Add(s.codeTTL).UTC(), nil
}
