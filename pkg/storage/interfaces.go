package storage

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/usage"
)

// ErrDuplicateEmail is returned when an account with the same email exists
var ErrDuplicateEmail = errors.New("account with this email already exists")

// AccountStore persists accounts. Finders return nil, nil for absent records.
type AccountStore interface {
	auth.AccountFinder
	FindByID(ctx context.Context, id int64) (*auth.Account, error)
	ListAccounts(ctx context.Context) ([]*auth.Account, error)
	// CreateAccount inserts the account and sets its ID and CreatedAt
	CreateAccount(ctx context.Context, account *auth.Account) error
	SaveAccount(ctx context.Context, account *auth.Account) error
	// DeleteAccount removes the account with its usage record and refresh tokens
	DeleteAccount(ctx context.Context, id int64) error
	// ClearExpiredCodes blanks verification and reset codes that expired
	// before now and returns how many codes were cleared
	ClearExpiredCodes(ctx context.Context, now time.Time) (int64, error)
}

// Store is the full persistence surface used by turnstile
type Store interface {
	AccountStore
	usage.Store
	auth.RefreshStore

	Ping(ctx context.Context) error
	Close() error
}

// Config selects and tunes the storage backend
type Config struct {
	Driver          string        `yaml:"driver"` // "memory", "postgres" or "sqlite3"
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`

	// RedisURL, when set, moves refresh tokens into Redis
	RedisURL        string `yaml:"redis_url"`
	RedisPassword   string `yaml:"redis_password"`
	RedisDB         int    `yaml:"redis_db"`
	RedisMaxRetries int    `yaml:"redis_max_retries"`
	RedisPoolSize   int    `yaml:"redis_pool_size"`
}

// DefaultConfig returns a single-node sqlite configuration
func DefaultConfig() Config {
	return Config{
		Driver:          "sqlite3",
		DSN:             "file:turnstile.db?_busy_timeout=5000",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
		RedisMaxRetries: 3,
		RedisPoolSize:   10,
	}
}

// withRefresh overrides the refresh token methods of a Store
type withRefresh struct {
	Store
	refresh auth.RefreshStore
}

// WithRefreshStore returns a Store whose refresh tokens live in refresh
// while accounts and usage stay in base.
func WithRefreshStore(base Store, refresh auth.RefreshStore) Store {
	if refresh == nil {
		return base
	}
	return &withRefresh{Store: base, refresh: refresh}
}

func (s *withRefresh) SaveRefresh(ctx context.Context, record *auth.RefreshRecord) error {
	return s.refresh.SaveRefresh(ctx, record)
}

func (s *withRefresh) FindRefresh(ctx context.Context, id string) (*auth.RefreshRecord, error) {
	return s.refresh.FindRefresh(ctx, id)
}

func (s *withRefresh) DeleteRefresh(ctx context.Context, id string) (bool, error) {
	return s.refresh.DeleteRefresh(ctx, id)
}

func (s *withRefresh) DeleteRefreshBySubject(ctx context.Context, subject string) error {
	return s.refresh.DeleteRefreshBySubject(ctx, subject)
}

func (s *withRefresh) DeleteExpiredRefresh(ctx context.Context, now time.Time) (int64, error) {
	return s.refresh.DeleteExpiredRefresh(ctx, now)
}

// DeleteAccount also drops the subject's refresh tokens from the override store
func (s *withRefresh) DeleteAccount(ctx context.Context, id int64) error {
	account, err := s.Store.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Store.DeleteAccount(ctx, id); err != nil {
		return err
	}
	if account != nil {
		return s.refresh.DeleteRefreshBySubject(ctx, account.Email)
	}
	return nil
}
