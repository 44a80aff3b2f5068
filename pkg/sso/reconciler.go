package sso

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/storage"
)

// AccountStore is the subset of storage the reconciler needs
type AccountStore interface {
	auth.AccountFinder
	CreateAccount(ctx context.Context, account *auth.Account) error
	SaveAccount(ctx context.Context, account *auth.Account) error
}

// Reconciler maps an external identity onto exactly one local account
type Reconciler struct {
	store AccountStore
	group singleflight.Group
}

// NewReconciler creates a reconciler
func NewReconciler(store AccountStore) *Reconciler {
	return &Reconciler{store: store}
}

// Reconcile finds or creates the account for a federated profile. An email
// owned by another provider yields *ProviderMismatchError and the existing
// account is left untouched.
func (r *Reconciler) Reconcile(ctx context.Context, profile Profile) (*auth.Account, error) {
	profile.Email = strings.TrimSpace(profile.Email)
	if profile.Email == "" {
		return nil, ErrMissingEmail
	}

	key := string(profile.Provider) + "|" + profile.Email
	// The flight outlives any single caller that shares it
	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		return r.reconcile(flightCtx, profile)
	})
	if err != nil {
		return nil, err
	}
	// Callers sharing a flight must not share the pointer
	account := *v.(*auth.Account)
	return &account, nil
}

func (r *Reconciler) reconcile(ctx context.Context, profile Profile) (*auth.Account, error) {
	existing, err := r.store.FindByEmail(ctx, profile.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}
	if existing != nil {
		return r.reuse(ctx, existing, profile)
	}

	account := &auth.Account{
		Name:     profile.Name,
		Email:    profile.Email,
		Role:     auth.RoleUser,
		Provider: profile.Provider,
		Enabled:  true,
	}
	err = r.store.CreateAccount(ctx, account)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, storage.ErrDuplicateEmail) {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	// Another process created it between our lookup and insert
	existing, err = r.store.FindByEmail(ctx, profile.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}
	if existing == nil {
		return nil, fmt.Errorf("account %s vanished after duplicate insert", profile.Email)
	}
	return r.reuse(ctx, existing, profile)
}

func (r *Reconciler) reuse(ctx context.Context, account *auth.Account, profile Profile) (*auth.Account, error) {
	if account.Provider != profile.Provider {
		return nil, &ProviderMismatchError{
			Email:     account.Email,
			Existing:  account.Provider,
			Attempted: profile.Provider,
		}
	}
	if account.Name == "" && profile.Name != "" {
		account.Name = profile.Name
		if err := r.store.SaveAccount(ctx, account); err != nil {
			return nil, fmt.Errorf("failed to update display name: %w", err)
		}
	}
	return account, nil
}
