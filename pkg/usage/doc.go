// Package usage meters requests against per-account daily caps keyed by
// subscription tier (FREE 5, PRO 25).
//
// Counters reset lazily: the first access on a new calendar day zeroes the
// count before anything else happens. Increments are conditional updates at
// the store, so N simultaneous requests below the cap produce exactly N
// increments and none past it.
//
//	limiter := usage.NewLimiter(store, store, usage.WithLocation(loc))
//	result, err := limiter.CheckAndIncrement(ctx, "alice@example.com")
//	if err == nil && !result.Allowed {
//		// 429 with result.Reason
//	}
package usage
