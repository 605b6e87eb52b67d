// Package auth verifies the signed bearer tokens that clients present when
// opening a realtime connection and turns them into an immutable Identity.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DevSecret is used when no secret is configured. Tokens signed with it are
// only suitable for local development.
const DevSecret = "fallback-secret-for-dev-only"

// Identity is the verified user behind a connection.
type Identity struct {
	ID       string `json:"userId"`
	Username string `json:"username"`
}

// Claims is the token payload issued by the login service.
type Claims struct {
	UserID   string `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Config holds token verification settings.
type Config struct {
	Secret string        // HMAC secret shared with the token issuer
	Issuer string        // expected iss claim; empty disables the check
	TTL    time.Duration // lifetime of tokens minted by Issue
	Leeway time.Duration // clock skew tolerated on exp/nbf
}

// DefaultConfig returns the development defaults. Production deployments
// must override Secret.
func DefaultConfig() Config {
	return Config{
		Secret: DevSecret,
		TTL:    7 * 24 * time.Hour,
	}
}

// Verifier validates HS256 tokens. It is safe for concurrent use.
type Verifier struct {
	config Config
	now    func() time.Time
}

// NewVerifier creates a Verifier for the given config.
func NewVerifier(config Config) *Verifier {
	if config.TTL <= 0 {
		config.TTL = DefaultConfig().TTL
	}
	return &Verifier{config: config, now: time.Now}
}

// WithClock returns a copy of v that reads the current time from now.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	cp := *v
	cp.now = now
	return &cp
}

// Verify checks the credential's signature, algorithm and expiry and
// returns the identity it carries. The payload is never trusted before the
// signature has been checked.
func (v *Verifier) Verify(credential string) (Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Identity{}, ErrUnauthorized
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
		jwt.WithLeeway(v.config.Leeway),
	}
	if v.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.config.Issuer))
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(credential, &claims, v.keyFunc, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, &AuthError{Kind: Expired, Err: err}
		}
		return Identity{}, &AuthError{Kind: InvalidToken, Err: err}
	}
	if !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	if claims.UserID == "" || strings.TrimSpace(claims.Username) == "" {
		return Identity{}, &AuthError{Kind: InvalidToken, Err: errors.New("token carries no identity")}
	}

	return Identity{ID: claims.UserID, Username: claims.Username}, nil
}

func (v *Verifier) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
	}
	return []byte(v.config.Secret), nil
}

// Issue mints a token for id with the configured TTL. The chat server never
// calls it; it exists for the token tool and tests.
func (v *Verifier) Issue(id Identity) (string, error) {
	now := v.now()
	claims := Claims{
		UserID:   id.ID,
		Username: id.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.config.Issuer,
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.config.TTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(v.config.Secret))
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// CredentialFromRequest extracts the bearer credential from the handshake
// request: the token query parameter, or an Authorization: Bearer header.
func CredentialFromRequest(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
