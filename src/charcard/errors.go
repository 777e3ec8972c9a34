package charcard

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is. Every error returned from this package matches
// exactly one of them.
var (
	// The input is not a well-formed PNG: bad signature, truncated or
	// overlong chunk, missing IEND, or over the size limit.
	ErrFormat = errors.New("not a valid PNG")

	// The PNG is fine but carries no chara text chunk. This is the common case
	// for ordinary images.
	ErrNotFound = errors.New("no character data embedded")

	// A chara chunk exists but its payload is not base64-encoded JSON, or the
	// JSON is not a usable character.
	ErrDecode = errors.New("corrupt character data")

	// A chunk's CRC-32 does not match its contents. Only reported when
	// checksum verification is enabled.
	ErrIntegrity = errors.New("chunk checksum mismatch")

	// The value handed to Encode could not be turned into JSON.
	ErrInvalidCharacter = errors.New("invalid character definition")
)

type Error struct {
	Kind    error
	Msg     string
	Offset  int // byte offset of the offending chunk, or -1
	Wrapped error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Offset >= 0 {
		msg += fmt.Sprintf(" (at offset %d)", e.Offset)
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

func newError(kind error, offset int, wrapped error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Msg:     fmt.Sprintf(format, args...),
		Offset:  offset,
		Wrapped: wrapped,
	}
}
