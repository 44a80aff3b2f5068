// Package auth provides token signing, credential verification and session
// token issuance for turnstile.
//
// # Overview
//
// Every authenticated request carries a signed JWT naming the account email
// as its subject. Access tokens embed the account's authorities and expire
// quickly; refresh tokens carry no authorities and are exchanged for a new
// pair through the Issuer.
//
// # Token Codec
//
// The Codec signs with a single process-wide HMAC key. The key length picks
// the algorithm (32 bytes HS256, 48 bytes HS384, 64 bytes HS512). Shorter
// keys are rejected at startup with a ConfigurationError.
//
//	codec, err := auth.NewCodec(key)
//	token, err := codec.Issue("alice@example.com", []string{"USER"}, 15*time.Minute)
//	claims, err := codec.Decode(token)
//	if errors.Is(err, auth.ErrExpired) {
//		// treat as unauthenticated
//	}
//
// Decode failures wrap exactly one of ErrMalformed, ErrInvalidSignature or
// ErrExpired. Expiry is compared against the codec clock with no leeway.
//
// # Credential Verification
//
//	verifier := auth.NewVerifier(nil)
//	if err := verifier.VerifyPassword(account, password); err != nil {
//		return auth.ErrInvalidCredentials
//	}
//	ok := verifier.ValidateToken(claims, account)
//
// Federated accounts have no password hash and never pass VerifyPassword.
//
// # Token Pairs
//
// The Issuer mints access/refresh pairs. In RefreshRevocable mode each
// refresh token id is persisted through a RefreshStore and consumed on use:
//
//	issuer, err := auth.NewIssuer(codec, store, store, auth.IssuerConfig{})
//	pair, err := issuer.IssuePair(ctx, account)
//	next, account, err := issuer.Refresh(ctx, pair.RefreshToken)
//
// Replaying a consumed refresh token returns ErrTokenRevoked. In
// RefreshStateless mode refresh tokens are valid until they expire.
package auth
