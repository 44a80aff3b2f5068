// Package sso implements federated login over OAuth2/OpenID Connect.
//
// A login is two requests. GET /api/auth/oauth2/{provider}/login stores a
// random state in the oauth_state cookie and redirects to the provider.
// GET /api/auth/oauth2/{provider}/callback checks the state, exchanges the
// code for a verified Profile, reconciles it to a local account, sets the
// token cookies and redirects to the configured success URL.
//
// Reconciliation is keyed by email. An email already registered through
// another provider (including a local password account) is never merged;
// the callback redirects to the failure URL with
// ?error=provider_mismatch&provider=<existing>.
//
//	registry, _ := sso.NewRegistry([]sso.OIDCConfig{
//		sso.GooglePreset(clientID, clientSecret, redirectURL),
//	}, time.Hour)
//	handlers := sso.NewHandlers(registry, sso.NewReconciler(store), issuer, cfg, metrics)
//	handlers.RegisterRoutes(router)
package sso
