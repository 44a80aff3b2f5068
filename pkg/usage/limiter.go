package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/turnstile/pkg/auth"
)

// Limiter enforces per-account daily request caps
type Limiter struct {
	accounts auth.AccountFinder
	store    Store
	now      func() time.Time
	location *time.Location
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock overrides the clock used to determine "today"
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLocation sets the time zone whose calendar day bounds the counter
func WithLocation(loc *time.Location) Option {
	return func(l *Limiter) {
		if loc != nil {
			l.location = loc
		}
	}
}

// NewLimiter creates a limiter. Days roll over at midnight UTC unless
// WithLocation is given.
func NewLimiter(accounts auth.AccountFinder, store Store, opts ...Option) *Limiter {
	l := &Limiter{
		accounts: accounts,
		store:    store,
		now:      time.Now,
		location: time.UTC,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Today returns the current calendar date in the limiter's location
func (l *Limiter) Today() string {
	return l.now().In(l.location).Format(DateLayout)
}

// CheckAndIncrement counts one request against the account's daily cap.
// A denied request leaves the counter unchanged.
func (l *Limiter) CheckAndIncrement(ctx context.Context, email string) (*Result, error) {
	today := l.Today()

	_, record, err := l.resolve(ctx, email, today)
	if err != nil {
		return nil, err
	}

	limit := DailyLimit(record.Tier)
	tier := displayTier(record.Tier)

	count, ok, err := l.store.IncrementUsageIfBelow(ctx, record.AccountID, today, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to increment usage: %w", err)
	}
	if ok {
		return &Result{
			Allowed:      true,
			CurrentCount: count,
			MaxForTier:   limit,
			Tier:         tier,
		}, nil
	}

	current, err := l.store.FindUsage(ctx, record.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to read usage: %w", err)
	}
	if current != nil && current.LastRequestDate == today {
		count = current.DailyCount
	} else {
		count = record.DailyCount
	}

	return &Result{
		Allowed:      false,
		Reason:       denialReason(tier),
		CurrentCount: count,
		MaxForTier:   limit,
		Tier:         tier,
	}, nil
}

// Enforce is CheckAndIncrement for callers that branch on errors. A denied
// request returns *QuotaExceededError.
func (l *Limiter) Enforce(ctx context.Context, email string) (*Result, error) {
	result, err := l.CheckAndIncrement(ctx, email)
	if err != nil {
		return nil, err
	}
	if !result.Allowed {
		return result, &QuotaExceededError{
			Tier:    result.Tier,
			Current: result.CurrentCount,
			Limit:   result.MaxForTier,
		}
	}
	return result, nil
}

// GetStatus reports today's usage without counting a request
func (l *Limiter) GetStatus(ctx context.Context, email string) (*Status, error) {
	today := l.Today()

	_, record, err := l.resolve(ctx, email, today)
	if err != nil {
		return nil, err
	}
	return statusOf(record, today), nil
}

// SelectTier stores an explicitly chosen tier for the account
func (l *Limiter) SelectTier(ctx context.Context, email string, tierName string) (*Status, error) {
	tier, err := ParseTier(tierName)
	if err != nil {
		return nil, err
	}

	today := l.Today()
	_, record, err := l.resolve(ctx, email, today)
	if err != nil {
		return nil, err
	}

	if err := l.store.SetTier(ctx, record.AccountID, tier); err != nil {
		return nil, fmt.Errorf("failed to set tier: %w", err)
	}
	record.Tier = tier
	record.TierSelected = true
	return statusOf(record, today), nil
}

// resolve loads the account and its usage record, creating the record on
// first use and resetting a counter from an earlier day.
func (l *Limiter) resolve(ctx context.Context, email string, today string) (*auth.Account, *Record, error) {
	account, err := l.accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find account: %w", err)
	}
	if account == nil {
		return nil, nil, ErrAccountNotFound
	}

	record, err := l.store.FindUsage(ctx, account.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read usage: %w", err)
	}
	if record == nil {
		err := l.store.CreateUsage(ctx, &Record{
			AccountID:       account.ID,
			Tier:            TierFree,
			LastRequestDate: today,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create usage record: %w", err)
		}
		// Re-read: a concurrent caller may have created it first
		if record, err = l.store.FindUsage(ctx, account.ID); err != nil {
			return nil, nil, fmt.Errorf("failed to read usage: %w", err)
		}
		if record == nil {
			return nil, nil, fmt.Errorf("usage record for account %d missing after create", account.ID)
		}
	}

	// Only roll forward. A caller whose clock still reads yesterday must not
	// rewind a record another caller already moved to the new day.
	if record.LastRequestDate < today {
		if _, err := l.store.ResetUsageIfStale(ctx, account.ID, today); err != nil {
			return nil, nil, fmt.Errorf("failed to reset usage: %w", err)
		}
		fresh, err := l.store.FindUsage(ctx, account.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read usage: %w", err)
		}
		if fresh != nil {
			record = fresh
		}
	}

	return account, record, nil
}

func statusOf(record *Record, today string) *Status {
	limit := DailyLimit(record.Tier)
	count := record.DailyCount
	if record.LastRequestDate != today {
		count = 0
	}
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return &Status{
		Tier:         displayTier(record.Tier),
		TierSelected: record.TierSelected,
		CurrentCount: count,
		MaxForTier:   limit,
		Remaining:    remaining,
		Date:         today,
	}
}

// displayTier maps unknown tiers to FREE, matching the cap they receive
func displayTier(t Tier) Tier {
	if t.Valid() {
		return t
	}
	return TierFree
}
