// Package storage defines the persistence boundary for accounts, usage
// records and refresh tokens, with an in-memory implementation.
//
// # Backends
//
//   - MemoryStore: process-local maps behind one mutex, for tests and single-node dev
//   - sqlstore.Store: PostgreSQL (lib/pq) or SQLite (mattn/go-sqlite3)
//   - redisstore.RefreshStore: refresh tokens in Redis with native expiry
//
// WithRefreshStore combines an account/usage backend with a separate refresh
// token backend:
//
//	base, err := sqlstore.Open(ctx, cfg)
//	refresh, err := redisstore.NewRefreshStore(cfg)
//	store := storage.WithRefreshStore(base, refresh)
//
// # Conventions
//
// Finders return (nil, nil) when a record does not exist. Errors are reserved
// for backend failures. CreateAccount returns ErrDuplicateEmail when the email
// is taken, which federated sign-in uses to detect a concurrent first login.
//
// Usage mutations are conditional single statements: ResetUsageIfStale only
// touches a record whose date is not today, IncrementUsageIfBelow only bumps a
// counter that is still below the cap.
package storage
