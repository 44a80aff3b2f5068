package usage_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/storage"
	"github.com/platinummonkey/turnstile/pkg/storage/sqlstore"
	"github.com/platinummonkey/turnstile/pkg/usage"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type limiterStore interface {
	storage.AccountStore
	usage.Store
}

func setupLimiter(t *testing.T, store limiterStore) (*usage.Limiter, *testClock) {
	t.Helper()

	clock := &testClock{now: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)}
	require.NoError(t, store.CreateAccount(context.Background(), &auth.Account{
		Email: "alice@example.com", Role: auth.RoleUser, Enabled: true,
	}))
	return usage.NewLimiter(store, store, usage.WithClock(clock.Now)), clock
}

func TestDailyLimit(t *testing.T) {
	assert.Equal(t, 5, usage.DailyLimit(usage.TierFree))
	assert.Equal(t, 25, usage.DailyLimit(usage.TierPro))
	assert.Equal(t, 5, usage.DailyLimit(usage.Tier("ENTERPRISE")))
	assert.Equal(t, 5, usage.DailyLimit(""))
}

func TestParseTier(t *testing.T) {
	tier, err := usage.ParseTier(" pro ")
	require.NoError(t, err)
	assert.Equal(t, usage.TierPro, tier)

	_, err = usage.ParseTier("gold")
	assert.True(t, errors.Is(err, usage.ErrUnknownTier))
}

func TestLimiter_FreeTierAllowsFiveThenDenies(t *testing.T) {
	limiter, _ := setupLimiter(t, storage.NewMemoryStore())
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		result, err := limiter.CheckAndIncrement(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.True(t, result.Allowed, "request %d", i)
		assert.Equal(t, i, result.CurrentCount)
		assert.Equal(t, 5, result.MaxForTier)
		assert.Equal(t, usage.TierFree, result.Tier)
	}

	result, err := limiter.CheckAndIncrement(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, 5, result.CurrentCount)
	assert.Equal(t, "Daily limit reached for FREE tier.", result.Reason)

	status, err := limiter.GetStatus(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, 5, status.CurrentCount)
	assert.Equal(t, 0, status.Remaining)
}

func TestLimiter_DayRolloverResets(t *testing.T) {
	limiter, clock := setupLimiter(t, storage.NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, err := limiter.CheckAndIncrement(ctx, "alice@example.com")
		require.NoError(t, err)
	}

	clock.Set(time.Date(2024, 3, 11, 0, 0, 1, 0, time.UTC))

	status, err := limiter.GetStatus(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, 0, status.CurrentCount)
	assert.Equal(t, "2024-03-11", status.Date)

	result, err := limiter.CheckAndIncrement(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 1, result.CurrentCount)
}

func TestLimiter_LaggingClockDoesNotRewindDay(t *testing.T) {
	store := storage.NewMemoryStore()
	fresh, clock := setupLimiter(t, store)
	clock.Set(time.Date(2024, 3, 11, 0, 0, 1, 0, time.UTC))
	lagging := usage.NewLimiter(store, store, usage.WithClock(func() time.Time {
		return time.Date(2024, 3, 10, 23, 59, 59, 0, time.UTC)
	}))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result, err := fresh.CheckAndIncrement(ctx, "alice@example.com")
		require.NoError(t, err)
		require.True(t, result.Allowed)
	}

	result, err := lagging.CheckAndIncrement(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	for i := 0; i < 5; i++ {
		result, err := fresh.CheckAndIncrement(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.False(t, result.Allowed, "request %d after the cap", i+1)
	}

	record, err := store.FindUsage(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-11", record.LastRequestDate)
	assert.Equal(t, 5, record.DailyCount)
}

func TestLimiter_LocationBoundsTheDay(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.CreateAccount(context.Background(), &auth.Account{Email: "alice@example.com", Enabled: true}))

	tokyo := time.FixedZone("JST", 9*60*60)
	clock := &testClock{now: time.Date(2024, 3, 10, 16, 0, 0, 0, time.UTC)}
	limiter := usage.NewLimiter(store, store, usage.WithClock(clock.Now), usage.WithLocation(tokyo))

	assert.Equal(t, "2024-03-11", limiter.Today())
}

func TestLimiter_GetStatusDoesNotIncrement(t *testing.T) {
	limiter, _ := setupLimiter(t, storage.NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		status, err := limiter.GetStatus(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, 0, status.CurrentCount)
		assert.Equal(t, 5, status.Remaining)
		assert.False(t, status.TierSelected)
	}
}

func TestLimiter_SelectTier(t *testing.T) {
	limiter, _ := setupLimiter(t, storage.NewMemoryStore())
	ctx := context.Background()

	_, err := limiter.SelectTier(ctx, "alice@example.com", "platinum")
	assert.True(t, errors.Is(err, usage.ErrUnknownTier))

	status, err := limiter.SelectTier(ctx, "alice@example.com", "PRO")
	require.NoError(t, err)
	assert.Equal(t, usage.TierPro, status.Tier)
	assert.True(t, status.TierSelected)
	assert.Equal(t, 25, status.MaxForTier)

	for i := 0; i < 25; i++ {
		result, err := limiter.CheckAndIncrement(ctx, "alice@example.com")
		require.NoError(t, err)
		require.True(t, result.Allowed)
	}
	result, err := limiter.CheckAndIncrement(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, "Daily limit reached for PRO tier.", result.Reason)
}

func TestLimiter_UnknownAccount(t *testing.T) {
	limiter, _ := setupLimiter(t, storage.NewMemoryStore())

	_, err := limiter.CheckAndIncrement(context.Background(), "nobody@example.com")
	assert.True(t, errors.Is(err, usage.ErrAccountNotFound))

	_, err = limiter.GetStatus(context.Background(), "nobody@example.com")
	assert.True(t, errors.Is(err, usage.ErrAccountNotFound))
}

func TestLimiter_Enforce(t *testing.T) {
	limiter, _ := setupLimiter(t, storage.NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := limiter.Enforce(ctx, "alice@example.com")
		require.NoError(t, err)
	}

	_, err := limiter.Enforce(ctx, "alice@example.com")
	require.Error(t, err)
	assert.True(t, usage.IsQuotaExceeded(err))

	var qe *usage.QuotaExceededError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, usage.TierFree, qe.Tier)
	assert.Equal(t, 5, qe.Current)
	assert.Equal(t, 5, qe.Limit)
	assert.Equal(t, "Daily limit reached for FREE tier.", qe.Error())
}

func TestLimiter_ConcurrentRequestsNeverExceedCap(t *testing.T) {
	backends := map[string]func(t *testing.T) limiterStore{
		"memory": func(t *testing.T) limiterStore { return storage.NewMemoryStore() },
		"sqlite": func(t *testing.T) limiterStore {
			s, err := sqlstore.Open(context.Background(), storage.Config{Driver: "sqlite3", DSN: ":memory:"})
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}

	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			limiter, _ := setupLimiter(t, newStore(t))
			ctx := context.Background()

			// Create the record up front so every goroutine races on the increment
			_, err := limiter.GetStatus(ctx, "alice@example.com")
			require.NoError(t, err)

			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				allowed int
			)
			for i := 0; i < 12; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					result, err := limiter.CheckAndIncrement(ctx, "alice@example.com")
					if err == nil && result.Allowed {
						mu.Lock()
						allowed++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, 5, allowed)
			status, err := limiter.GetStatus(ctx, "alice@example.com")
			require.NoError(t, err)
			assert.Equal(t, 5, status.CurrentCount)
		})
	}
}
