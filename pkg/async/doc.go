// Package async runs fire-and-forget background work with panic recovery,
// per-task timeouts and structured error logging.
//
//	tracker := async.NewTracker()
//	tracker.Go(ctx, 10*time.Second, "password reset mail", func(ctx context.Context) error {
//		return mailer.SendPasswordReset(ctx, email, code)
//	})
//	// on shutdown
//	_ = tracker.Wait(shutdownCtx)
package async
