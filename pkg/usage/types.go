package usage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DateLayout is the calendar date format stored in usage records
const DateLayout = "2006-01-02"

// Tier is a subscription tier
type Tier string

const (
	TierFree Tier = "FREE"
	TierPro  Tier = "PRO"
)

var dailyLimits = map[Tier]int{
	TierFree: 5,
	TierPro:  25,
}

// Valid reports whether t is a known tier
func (t Tier) Valid() bool {
	_, ok := dailyLimits[t]
	return ok
}

// DailyLimit returns the per-day request cap for a tier. Unknown tiers get
// the FREE cap.
func DailyLimit(t Tier) int {
	if limit, ok := dailyLimits[t]; ok {
		return limit
	}
	return dailyLimits[TierFree]
}

// ParseTier parses a tier name case-insensitively
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
	return t, nil
}

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrUnknownTier     = errors.New("unknown tier")
)

// QuotaExceededError is returned by Limiter.Enforce when the daily cap is reached
type QuotaExceededError struct {
	Tier    Tier
	Current int
	Limit   int
}

// Error returns the client-facing denial reason
func (e *QuotaExceededError) Error() string {
	return denialReason(e.Tier)
}

func denialReason(t Tier) string {
	return fmt.Sprintf("Daily limit reached for %s tier.", t)
}

// IsQuotaExceeded checks if an error is a quota exceeded error
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}

// Record is the per-account usage counter
type Record struct {
	AccountID       int64  `json:"account_id"`
	Tier            Tier   `json:"tier"`
	TierSelected    bool   `json:"tier_selected"`
	LastRequestDate string `json:"last_request_date"`
	DailyCount      int    `json:"daily_count"`
}

// Store persists usage records. Every mutation is a single conditional
// statement so concurrent callers never lose or double count.
type Store interface {
	// FindUsage returns nil, nil when the account has no record
	FindUsage(ctx context.Context, accountID int64) (*Record, error)
	// CreateUsage inserts a record, doing nothing if one already exists
	CreateUsage(ctx context.Context, record *Record) error
	// SetTier stores the tier and marks it as explicitly selected
	SetTier(ctx context.Context, accountID int64, tier Tier) error
	// ResetUsageIfStale zeroes the counter when its date differs from today
	ResetUsageIfStale(ctx context.Context, accountID int64, today string) (bool, error)
	// IncrementUsageIfBelow bumps the counter for today if it is below limit
	// and returns the new count
	IncrementUsageIfBelow(ctx context.Context, accountID int64, today string, limit int) (int, bool, error)
}

// Result is the outcome of a metered request
type Result struct {
	Allowed      bool   `json:"allowed"`
	Reason       string `json:"reason,omitempty"`
	CurrentCount int    `json:"current_count"`
	MaxForTier   int    `json:"max_for_tier"`
	Tier         Tier   `json:"tier"`
}

// Status is a read-only view of an account's usage for today
type Status struct {
	Tier         Tier   `json:"tier"`
	TierSelected bool   `json:"tier_selected"`
	CurrentCount int    `json:"current_count"`
	MaxForTier   int    `json:"max_for_tier"`
	Remaining    int    `json:"remaining"`
	Date         string `json:"date"`
}
