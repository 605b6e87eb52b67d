package chat

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MaxMessageBytes = 4096 // body size limit
	MaxTextChars    = 2000 // body character limit
	MaxRoomNameLen  = 64
	MaxFileRefLen   = 1024
)

// ValidateBody checks a client-supplied body for the given kind.
func ValidateBody(kind Kind, body, fileRef string) error {
	switch kind {
	case KindText:
		if strings.TrimSpace(body) == "" {
			return ErrEmptyBody
		}
	case KindFile:
		if strings.TrimSpace(fileRef) == "" {
			return invalid(CodeMissingFile, "file messages need a file reference")
		}
		if len(fileRef) > MaxFileRefLen {
			return invalid(CodeTooLong, "file reference exceeds %d bytes", MaxFileRefLen)
		}
	default:
		return invalid(CodeInvalidKind, "unsupported message type %q", kind)
	}

	if !utf8.ValidString(body) {
		return invalid(CodeInvalidEncoding, "message contains invalid UTF-8")
	}
	if len(body) > MaxMessageBytes {
		return invalid(CodeTooLong, "message exceeds %d byte limit", MaxMessageBytes)
	}
	if utf8.RuneCountInString(body) > MaxTextChars {
		return invalid(CodeTooLong, "message exceeds %d character limit", MaxTextChars)
	}
	return nil
}

// ValidateRoomName accepts non-empty names without surrounding whitespace
// or control characters.
func ValidateRoomName(room string) error {
	if room == "" {
		return invalid(CodeInvalidRoom, "room name is required")
	}
	if strings.TrimSpace(room) != room {
		return invalid(CodeInvalidRoom, "room name has surrounding whitespace")
	}
	if utf8.RuneCountInString(room) > MaxRoomNameLen {
		return invalid(CodeInvalidRoom, "room name exceeds %d characters", MaxRoomNameLen)
	}
	for _, r := range room {
		if unicode.IsControl(r) || r == utf8.RuneError {
			return invalid(CodeInvalidRoom, "room name contains invalid characters")
		}
	}
	return nil
}

// ParseKind maps the wire type to a Kind; empty means text.
func ParseKind(s string) Kind {
	if s == "" {
		return KindText
	}
	return Kind(s)
}
