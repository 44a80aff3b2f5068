package auth

import (
	"context"
	"fmt"
	"time"
)

// RefreshMode selects how refresh tokens are validated
type RefreshMode string

const (
	// RefreshRevocable persists refresh token ids so they can be rotated and revoked
	RefreshRevocable RefreshMode = "revocable"
	// RefreshStateless trusts signature and expiry alone
	RefreshStateless RefreshMode = "stateless"
)

const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// RefreshRecord is the server-side record of an issued refresh token
type RefreshRecord struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// RefreshStore persists refresh token records for revocable mode.
// FindRefresh returns nil, nil when no record exists.
type RefreshStore interface {
	SaveRefresh(ctx context.Context, record *RefreshRecord) error
	FindRefresh(ctx context.Context, id string) (*RefreshRecord, error)
	// DeleteRefresh reports whether a record was removed
	DeleteRefresh(ctx context.Context, id string) (bool, error)
	DeleteRefreshBySubject(ctx context.Context, subject string) error
	DeleteExpiredRefresh(ctx context.Context, now time.Time) (int64, error)
}

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// IssuerConfig holds token lifetimes and the refresh mode
type IssuerConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Mode       RefreshMode
}

// Issuer mints access/refresh pairs and rotates refresh tokens
type Issuer struct {
	codec    *Codec
	accounts AccountFinder
	store    RefreshStore
	config   IssuerConfig
}

// NewIssuer creates an issuer. Revocable mode requires a RefreshStore.
func NewIssuer(codec *Codec, accounts AccountFinder, store RefreshStore, config IssuerConfig) (*Issuer, error) {
	if codec == nil {
		return nil, &ConfigurationError{Field: "token codec", Reason: "is required"}
	}
	if config.AccessTTL <= 0 {
		config.AccessTTL = DefaultAccessTokenTTL
	}
	if config.RefreshTTL <= 0 {
		config.RefreshTTL = DefaultRefreshTokenTTL
	}
	if config.Mode == "" {
		config.Mode = RefreshRevocable
	}

	switch config.Mode {
	case RefreshRevocable:
		if store == nil {
			return nil, &ConfigurationError{Field: "refresh mode", Reason: "revocable mode requires a refresh store"}
		}
	case RefreshStateless:
	default:
		return nil, &ConfigurationError{Field: "refresh mode", Reason: fmt.Sprintf("unknown mode %q", config.Mode)}
	}

	return &Issuer{
		codec:    codec,
		accounts: accounts,
		store:    store,
		config:   config,
	}, nil
}

// AccessTTL returns the access token lifetime
func (i *Issuer) AccessTTL() time.Duration { return i.config.AccessTTL }

// RefreshTTL returns the refresh token lifetime
func (i *Issuer) RefreshTTL() time.Duration { return i.config.RefreshTTL }

// Mode returns the configured refresh mode
func (i *Issuer) Mode() RefreshMode { return i.config.Mode }

// IssuePair creates a new access/refresh pair for an authenticated account
func (i *Issuer) IssuePair(ctx context.Context, account *Account) (*TokenPair, error) {
	if account == nil {
		return nil, ErrIdentityNotFound
	}

	access, accessClaims, err := i.codec.sign(account.Email, account.Authorities(), TokenUseAccess, i.config.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	refresh, refreshClaims, err := i.codec.IssueRefresh(account.Email, i.config.RefreshTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue refresh token: %w", err)
	}

	if i.config.Mode == RefreshRevocable {
		record := &RefreshRecord{
			ID:        refreshClaims.ID,
			Subject:   account.Email,
			ExpiresAt: refreshClaims.ExpiresAt,
			CreatedAt: refreshClaims.IssuedAt,
		}
		if err := i.store.SaveRefresh(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to persist refresh token: %w", err)
		}
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessClaims.ExpiresAt,
		RefreshExpiresAt: refreshClaims.ExpiresAt,
	}, nil
}

// Refresh validates a refresh token and returns a new pair. In revocable
// mode the presented token is consumed, so replaying it fails.
func (i *Issuer) Refresh(ctx context.Context, refreshToken string) (*TokenPair, *Account, error) {
	claims, err := i.codec.Decode(refreshToken)
	if err != nil {
		return nil, nil, err
	}
	if claims.TokenUse != TokenUseRefresh {
		return nil, nil, ErrWrongTokenUse
	}

	account, err := i.accounts.FindByEmail(ctx, claims.Subject)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve account: %w", err)
	}
	if account == nil {
		return nil, nil, ErrIdentityNotFound
	}
	if !account.Enabled {
		return nil, nil, ErrAccountDisabled
	}

	if i.config.Mode == RefreshRevocable {
		record, err := i.store.FindRefresh(ctx, claims.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to look up refresh token: %w", err)
		}
		if record == nil || record.Subject != claims.Subject {
			return nil, nil, ErrTokenRevoked
		}
		deleted, err := i.store.DeleteRefresh(ctx, claims.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to rotate refresh token: %w", err)
		}
		if !deleted {
			// Another request rotated it first
			return nil, nil, ErrTokenRevoked
		}
	}

	pair, err := i.IssuePair(ctx, account)
	if err != nil {
		return nil, nil, err
	}
	return pair, account, nil
}

// Revoke invalidates a refresh token. Invalid tokens and stateless mode are no-ops.
func (i *Issuer) Revoke(ctx context.Context, refreshToken string) error {
	if i.config.Mode != RefreshRevocable || refreshToken == "" {
		return nil
	}
	claims, err := i.codec.Decode(refreshToken)
	if err != nil || claims.TokenUse != TokenUseRefresh {
		return nil
	}
	if _, err := i.store.DeleteRefresh(ctx, claims.ID); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAll invalidates every refresh token issued to a subject
func (i *Issuer) RevokeAll(ctx context.Context, subject string) error {
	if i.config.Mode != RefreshRevocable {
		return nil
	}
	if err := i.store.DeleteRefreshBySubject(ctx, subject); err != nil {
		return fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}
	return nil
}
