package sqlstore

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
	"github.com/platinummonkey/turnstile/pkg/usage"
)

func setupSQLiteStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(context.Background(), storage.Config{Driver: "sqlite3", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func createAccount(t *testing.T, store *Store, email string) *auth.Account {
	t.Helper()

	account := &auth.Account{
		Name:     "Test User",
		Email:    email,
		Role:     auth.RoleUser,
		Provider: auth.ProviderLocal,
		Enabled:  true,
	}
	require.NoError(t, store.CreateAccount(context.Background(), account))
	return account
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), storage.Config{Driver: "oracle"})
	assert.Error(t, err)
}

func TestStore_AccountLifecycle(t *testing.T) {
	store := setupSQLiteStore(t)
	ctx := context.Background()

	missing, err := store.FindByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, missing)

	account := createAccount(t, store, "alice@example.com")
	assert.NotZero(t, account.ID)
	assert.False(t, account.CreatedAt.IsZero())

	found, err := store.FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, account.ID, found.ID)
	assert.Equal(t, auth.RoleUser, found.Role)
	assert.Equal(t, auth.ProviderLocal, found.Provider)
	assert.True(t, found.Enabled)
	assert.Nil(t, found.VerificationExpiresAt)

	expires := time.Now().Add(15 * time.Minute).UTC().Truncate(time.Second)
	found.Role = auth.RoleAdmin
	found.VerificationCode = "123456"
	found.VerificationExpiresAt = &expires
	require.NoError(t, store.SaveAccount(ctx, found))

	byID, err := store.FindByID(ctx, account.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, auth.RoleAdmin, byID.Role)
	assert.Equal(t, "123456", byID.VerificationCode)
	require.NotNil(t, byID.VerificationExpiresAt)
	assert.True(t, expires.Equal(*byID.VerificationExpiresAt))

	createAccount(t, store, "bob@example.com")
	all, err := store.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "alice@example.com", all[0].Email)
}

func TestStore_DuplicateEmail(t *testing.T) {
	store := setupSQLiteStore(t)
	createAccount(t, store, "alice@example.com")

	err := store.CreateAccount(context.Background(), &auth.Account{Email: "alice@example.com"})
	assert.True(t, errors.Is(err, storage.ErrDuplicateEmail))
}

func TestStore_DeleteAccountCascades(t *testing.T) {
	store := setupSQLiteStore(t)
	ctx := context.Background()

	account := createAccount(t, store, "alice@example.com")
	require.NoError(t, store.CreateUsage(ctx, &usage.Record{AccountID: account.ID, Tier: usage.TierFree, LastRequestDate: "2024-03-10"}))
	require.NoError(t, store.SaveRefresh(ctx, &auth.RefreshRecord{
		ID: "r1", Subject: account.Email, ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now(),
	}))

	require.NoError(t, store.DeleteAccount(ctx, account.ID))

	gone, err := store.FindByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	record, err := store.FindUsage(ctx, account.ID)
	require.NoError(t, err)
	assert.Nil(t, record)

	refresh, err := store.FindRefresh(ctx, "r1")
	require.NoError(t, err)
	assert.Nil(t, refresh)

	// Deleting again is a no-op
	assert.NoError(t, store.DeleteAccount(ctx, account.ID))
}

func TestStore_ClearExpiredCodes(t *testing.T) {
	store := setupSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	stale := createAccount(t, store, "stale@example.com")
	stale.VerificationCode = "111111"
	stale.VerificationExpiresAt = &past
	require.NoError(t, store.SaveAccount(ctx, stale))

	fresh := createAccount(t, store, "fresh@example.com")
	fresh.ResetCode = "222222"
	fresh.ResetExpiresAt = &future
	require.NoError(t, store.SaveAccount(ctx, fresh))

	cleared, err := store.ClearExpiredCodes(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cleared)

	got, err := store.FindByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Empty(t, got.VerificationCode)
	assert.Nil(t, got.VerificationExpiresAt)

	got, err = store.FindByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, "222222", got.ResetCode)
}

func TestStore_UsageConditionalUpdates(t *testing.T) {
	store := setupSQLiteStore(t)
	ctx := context.Background()
	account := createAccount(t, store, "alice@example.com")

	record, err := store.FindUsage(ctx, account.ID)
	require.NoError(t, err)
	assert.Nil(t, record)

	require.NoError(t, store.CreateUsage(ctx, &usage.Record{AccountID: account.ID, Tier: usage.TierFree, LastRequestDate: "2024-03-09", DailyCount: 4}))
	// Second create is ignored
	require.NoError(t, store.CreateUsage(ctx, &usage.Record{AccountID: account.ID, Tier: usage.TierPro, LastRequestDate: "2024-03-10"}))

	record, err = store.FindUsage(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, usage.TierFree, record.Tier)
	assert.Equal(t, 4, record.DailyCount)

	// Stale date means no increment until reset
	_, ok, err := store.IncrementUsageIfBelow(ctx, account.ID, "2024-03-10", 5)
	require.NoError(t, err)
	assert.False(t, ok)

	reset, err := store.ResetUsageIfStale(ctx, account.ID, "2024-03-10")
	require.NoError(t, err)
	assert.True(t, reset)

	reset, err = store.ResetUsageIfStale(ctx, account.ID, "2024-03-10")
	require.NoError(t, err)
	assert.False(t, reset)

	// An earlier date never rewinds the record
	reset, err = store.ResetUsageIfStale(ctx, account.ID, "2024-03-09")
	require.NoError(t, err)
	assert.False(t, reset)

	for want := 1; want <= 2; want++ {
		count, ok, err := store.IncrementUsageIfBelow(ctx, account.ID, "2024-03-10", 2)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, want, count)
	}
	_, ok, err = store.IncrementUsageIfBelow(ctx, account.ID, "2024-03-10", 2)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetTier(ctx, account.ID, usage.TierPro))
	record, err = store.FindUsage(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, usage.TierPro, record.Tier)
	assert.True(t, record.TierSelected)
	assert.Equal(t, 2, record.DailyCount)
}

func TestStore_ConcurrentIncrementsStopAtCap(t *testing.T) {
	store := setupSQLiteStore(t)
	ctx := context.Background()
	account := createAccount(t, store, "alice@example.com")
	require.NoError(t, store.CreateUsage(ctx, &usage.Record{AccountID: account.ID, Tier: usage.TierFree, LastRequestDate: "2024-03-10"}))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := store.IncrementUsageIfBelow(ctx, account.ID, "2024-03-10", 5)
			if err == nil && ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, allowed)
	record, err := store.FindUsage(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, record.DailyCount)
}

func TestStore_RefreshTokens(t *testing.T) {
	store := setupSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	records := []*auth.RefreshRecord{
		{ID: "a", Subject: "alice@example.com", ExpiresAt: now.Add(time.Hour), CreatedAt: now},
		{ID: "b", Subject: "alice@example.com", ExpiresAt: now.Add(-time.Minute), CreatedAt: now.Add(-time.Hour)},
		{ID: "c", Subject: "bob@example.com", ExpiresAt: now.Add(time.Hour), CreatedAt: now},
	}
	for _, r := range records {
		require.NoError(t, store.SaveRefresh(ctx, r))
	}

	found, err := store.FindRefresh(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "alice@example.com", found.Subject)
	assert.True(t, now.Add(time.Hour).Equal(found.ExpiresAt))

	removed, err := store.DeleteExpiredRefresh(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	deleted, err := store.DeleteRefresh(ctx, "a")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.DeleteRefresh(ctx, "a")
	require.NoError(t, err)
	assert.False(t, deleted)

	require.NoError(t, store.DeleteRefreshBySubject(ctx, "bob@example.com"))
	found, err = store.FindRefresh(ctx, "c")
	require.NoError(t, err)
	assert.Nil(t, found)
}
