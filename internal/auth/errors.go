package auth

import "fmt"

// Kind classifies why a connection attempt failed authentication.
type Kind int

const (
	// Unauthorized means no credential was supplied.
	Unauthorized Kind = iota + 1
	// InvalidToken covers malformed tokens, signature mismatch, wrong
	// algorithm and tokens whose claims do not carry an identity.
	InvalidToken
	// Expired means the token verified but its exp claim is in the past.
	Expired
)

// String returns the machine-readable name used in logs and metrics labels.
func (k Kind) String() string {
	switch k {
	case Unauthorized:
		return "unauthorized"
	case InvalidToken:
		return "invalid_token"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Message returns the text sent to clients on rejection.
func (k Kind) Message() string {
	switch k {
	case Unauthorized:
		return "Unauthorized"
	case Expired:
		return "Token expired"
	default:
		return "Invalid token"
	}
}

// AuthError is returned by Verifier.Verify. Two AuthErrors match under
// errors.Is when their kinds are equal, so callers compare against the
// package sentinels.
type AuthError struct {
	Kind Kind
	Err  error // underlying parser error, may be nil
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Kind, e.Err)
	}
	return "auth: " + e.Kind.String()
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is reports whether target is an AuthError of the same kind.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	return ok && t.Kind == e.Kind
}

var (
	ErrUnauthorized = &AuthError{Kind: Unauthorized}
	ErrInvalidToken = &AuthError{Kind: InvalidToken}
	ErrExpired      = &AuthError{Kind: Expired}
)
