package chat

import "fmt"

// Codes carried by ValidationError and sent to clients in error events.
const (
	CodeEmptyBody       = "empty_body"
	CodeNotMember       = "not_member"
	CodeTooLong         = "too_long"
	CodeInvalidEncoding = "invalid_encoding"
	CodeInvalidKind     = "invalid_kind"
	CodeMissingFile     = "missing_file"
	CodeInvalidRoom     = "invalid_room"
	CodeBlocked         = "blocked"
	CodeRateLimited     = "rate_limited"
	CodeNotFound        = "not_found"
)

// ValidationError rejects a client request. It is reported to the sender
// only and never affects other connections.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("chat: %s: %s", e.Code, e.Message)
}

// Is matches on Code so errors.Is works against the sentinels below.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Code == e.Code
}

func invalid(code, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrEmptyBody   = &ValidationError{Code: CodeEmptyBody, Message: "message is empty"}
	ErrNotMember   = &ValidationError{Code: CodeNotMember, Message: "not a member of this room"}
	ErrNotFound    = &ValidationError{Code: CodeNotFound, Message: "recipient is not online"}
	ErrRateLimited = &ValidationError{Code: CodeRateLimited, Message: "slow down"}
)
