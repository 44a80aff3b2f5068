package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/usage"
)

// MemoryStore is an in-process Store. All state sits behind one mutex so
// every conditional update is atomic.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   int64
	accounts map[int64]*auth.Account
	byEmail  map[string]int64
	usage    map[int64]*usage.Record
	refresh  map[string]*auth.RefreshRecord
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[int64]*auth.Account),
		byEmail:  make(map[string]int64),
		usage:    make(map[int64]*usage.Record),
		refresh:  make(map[string]*auth.RefreshRecord),
		now:      time.Now,
	}
}

func copyAccount(a *auth.Account) *auth.Account {
	c := *a
	if a.VerificationExpiresAt != nil {
		t := *a.VerificationExpiresAt
		c.VerificationExpiresAt = &t
	}
	if a.ResetExpiresAt != nil {
		t := *a.ResetExpiresAt
		c.ResetExpiresAt = &t
	}
	return &c
}

func (s *MemoryStore) FindByEmail(_ context.Context, email string) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, nil
	}
	return copyAccount(s.accounts[id]), nil
}

func (s *MemoryStore) FindByID(_ context.Context, id int64) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, nil
	}
	return copyAccount(a), nil
}

func (s *MemoryStore) ListAccounts(_ context.Context) ([]*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*auth.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, copyAccount(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CreateAccount(_ context.Context, account *auth.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[account.Email]; exists {
		return ErrDuplicateEmail
	}
	s.nextID++
	account.ID = s.nextID
	if account.CreatedAt.IsZero() {
		account.CreatedAt = s.now().UTC()
	}
	s.accounts[account.ID] = copyAccount(account)
	s.byEmail[account.Email] = account.ID
	return nil
}

func (s *MemoryStore) SaveAccount(_ context.Context, account *auth.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.accounts[account.ID]
	if !ok {
		return nil
	}
	if existing.Email != account.Email {
		if _, taken := s.byEmail[account.Email]; taken {
			return ErrDuplicateEmail
		}
		delete(s.byEmail, existing.Email)
		s.byEmail[account.Email] = account.ID
	}
	s.accounts[account.ID] = copyAccount(account)
	return nil
}

func (s *MemoryStore) DeleteAccount(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil
	}
	delete(s.accounts, id)
	delete(s.byEmail, a.Email)
	delete(s.usage, id)
	for rid, r := range s.refresh {
		if r.Subject == a.Email {
			delete(s.refresh, rid)
		}
	}
	return nil
}

func (s *MemoryStore) ClearExpiredCodes(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cleared int64
	for _, a := range s.accounts {
		if a.VerificationExpiresAt != nil && a.VerificationExpiresAt.Before(now) {
			a.VerificationCode = ""
			a.VerificationExpiresAt = nil
			cleared++
		}
		if a.ResetExpiresAt != nil && a.ResetExpiresAt.Before(now) {
			a.ResetCode = ""
			a.ResetExpiresAt = nil
			cleared++
		}
	}
	return cleared, nil
}

func (s *MemoryStore) FindUsage(_ context.Context, accountID int64) (*usage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.usage[accountID]
	if !ok {
		return nil, nil
	}
	c := *r
	return &c, nil
}

func (s *MemoryStore) CreateUsage(_ context.Context, record *usage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usage[record.AccountID]; exists {
		return nil
	}
	c := *record
	s.usage[record.AccountID] = &c
	return nil
}

func (s *MemoryStore) SetTier(_ context.Context, accountID int64, tier usage.Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.usage[accountID]; ok {
		r.Tier = tier
		r.TierSelected = true
	}
	return nil
}

func (s *MemoryStore) ResetUsageIfStale(_ context.Context, accountID int64, today string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.usage[accountID]
	// Dates are ISO-8601, so string order is calendar order
	if !ok || r.LastRequestDate >= today {
		return false, nil
	}
	r.LastRequestDate = today
	r.DailyCount = 0
	return true, nil
}

func (s *MemoryStore) IncrementUsageIfBelow(_ context.Context, accountID int64, today string, limit int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.usage[accountID]
	if !ok || r.LastRequestDate != today || r.DailyCount >= limit {
		return 0, false, nil
	}
	r.DailyCount++
	return r.DailyCount, true, nil
}

func (s *MemoryStore) SaveRefresh(_ context.Context, record *auth.RefreshRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *record
	s.refresh[record.ID] = &c
	return nil
}

func (s *MemoryStore) FindRefresh(_ context.Context, id string) (*auth.RefreshRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.refresh[id]
	if !ok {
		return nil, nil
	}
	c := *r
	return &c, nil
}

func (s *MemoryStore) DeleteRefresh(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.refresh[id]
	delete(s.refresh, id)
	return ok, nil
}

func (s *MemoryStore) DeleteRefreshBySubject(_ context.Context, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, r := range s.refresh {
		if r.Subject == subject {
			delete(s.refresh, id)
		}
	}
	return nil
}

func (s *MemoryStore) DeleteExpiredRefresh(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, r := range s.refresh {
		if !r.ExpiresAt.After(now) {
			delete(s.refresh, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
