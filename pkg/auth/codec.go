package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// MinKeyBytes is the smallest accepted signing key (256 bits)
	MinKeyBytes = 32

	TokenUseAccess  = "access"
	TokenUseRefresh = "refresh"
)

// Claims is the verified content of a token
type Claims struct {
	ID          string
	Subject     string
	Authorities []string
	TokenUse    string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// tokenClaims is the wire form used for JWT encoding.
type tokenClaims struct {
	jwt.RegisteredClaims
	Authorities []string `json:"authorities,omitempty"`
	TokenUse    string   `json:"token_use"`
}

// Codec signs and verifies tokens with a process-wide symmetric key.
// No clock-skew leeway is granted on expiry.
type Codec struct {
	key    []byte
	method jwt.SigningMethod
	issuer string
	now    func() time.Time
}

// CodecOption configures a Codec
type CodecOption func(*Codec)

// WithClock overrides the wall clock used for issuing and expiry checks
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIssuer sets the iss claim on issued tokens
func WithIssuer(issuer string) CodecOption {
	return func(c *Codec) {
		c.issuer = issuer
	}
}

// NewCodec creates a codec. Keys shorter than MinKeyBytes are a
// configuration error; the key length selects HS256, HS384 or HS512.
func NewCodec(key []byte, opts ...CodecOption) (*Codec, error) {
	if len(key) == 0 {
		return nil, &ConfigurationError{Field: "signing key", Reason: "is required"}
	}
	if len(key) < MinKeyBytes {
		return nil, &ConfigurationError{
			Field:  "signing key",
			Reason: fmt.Sprintf("must be at least %d bits, got %d", MinKeyBytes*8, len(key)*8),
		}
	}

	c := &Codec{
		key:    append([]byte(nil), key...),
		method: signingMethodFor(len(key)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func signingMethodFor(keyLen int) jwt.SigningMethod {
	switch {
	case keyLen >= 64:
		return jwt.SigningMethodHS512
	case keyLen >= 48:
		return jwt.SigningMethodHS384
	default:
		return jwt.SigningMethodHS256
	}
}

// Algorithm returns the JWT alg used by this codec
func (c *Codec) Algorithm() string {
	return c.method.Alg()
}

// Issue creates an access token carrying the given authorities
func (c *Codec) Issue(subject string, authorities []string, ttl time.Duration) (string, error) {
	token, _, err := c.sign(subject, authorities, TokenUseAccess, ttl)
	return token, err
}

// IssueRefresh creates a refresh token. Refresh tokens never carry authorities.
func (c *Codec) IssueRefresh(subject string, ttl time.Duration) (string, *Claims, error) {
	return c.sign(subject, nil, TokenUseRefresh, ttl)
}

func (c *Codec) sign(subject string, authorities []string, use string, ttl time.Duration) (string, *Claims, error) {
	if ttl <= 0 {
		return "", nil, fmt.Errorf("token ttl must be positive, got %s", ttl)
	}

	// NumericDate has second precision; truncate so returned claims match the wire
	issuedAt := c.now().Truncate(time.Second)
	expiresAt := issuedAt.Add(ttl)
	id := uuid.NewString()

	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   subject,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Authorities: authorities,
		TokenUse:    use,
	}

	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.key)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, &Claims{
		ID:          id,
		Subject:     subject,
		Authorities: authorities,
		TokenUse:    use,
		IssuedAt:    issuedAt,
		ExpiresAt:   expiresAt,
	}, nil
}

// Decode verifies the signature and expiry and returns the claims.
// Errors wrap ErrMalformed, ErrInvalidSignature or ErrExpired.
func (c *Codec) Decode(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, ErrMalformed
	}

	parsed := &tokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, parsed,
		func(*jwt.Token) (interface{}, error) { return c.key, nil },
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
	)
	if err != nil {
		return nil, classifyParseError(tokenString, err)
	}
	if !token.Valid {
		return nil, ErrMalformed
	}

	claims := &Claims{
		ID:          parsed.ID,
		Subject:     parsed.Subject,
		Authorities: parsed.Authorities,
		TokenUse:    parsed.TokenUse,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time
	}
	if parsed.ExpiresAt != nil {
		claims.ExpiresAt = parsed.ExpiresAt.Time
	}
	return claims, nil
}

// ExtractUsername returns the token subject. It fails like Decode for
// malformed, forged or expired tokens, and returns "" with a nil error for a
// valid token that has no subject.
func (c *Codec) ExtractUsername(tokenString string) (string, error) {
	claims, err := c.Decode(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func classifyParseError(tokenString string, err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenMalformed) && onlySignatureCorrupt(tokenString):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

// onlySignatureCorrupt reports whether header and payload decode cleanly,
// meaning the decoding failure came from the signature segment.
func onlySignatureCorrupt(tokenString string) bool {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 || parts[2] == "" {
		return false
	}
	for _, part := range parts[:2] {
		raw, err := base64.RawURLEncoding.Strict().DecodeString(part)
		if err != nil || !json.Valid(raw) {
			return false
		}
	}
	return true
}
