package core

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that need to map it onto a response
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindPhraseNotFound
	KindPhraseExpired
	KindAlreadyVerified
	KindInvalidSignature
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPhraseNotFound:
		return "phrase_not_found"
	case KindPhraseExpired:
		return "phrase_expired"
	case KindAlreadyVerified:
		return "already_verified"
	case KindInvalidSignature:
		return "invalid_signature"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is a classified domain error
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors of the same kind, so wrapped sentinels compare equal
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

var (
	ErrPhraseNotFound    = &Error{Kind: KindPhraseNotFound, Msg: "login phrase not found"}
	ErrPhraseExpired     = &Error{Kind: KindPhraseExpired, Msg: "login phrase expired"}
	ErrAlreadyVerified   = &Error{Kind: KindAlreadyVerified, Msg: "login phrase already verified"}
	ErrInvalidSignature  = &Error{Kind: KindInvalidSignature, Msg: "invalid signature"}
	ErrUnauthenticated   = &Error{Kind: KindUnauthenticated, Msg: "unauthenticated"}
	ErrForbidden         = &Error{Kind: KindForbidden, Msg: "forbidden"}
	ErrSessionNotFound   = &Error{Kind: KindNotFound, Msg: "session not found"}
	ErrPhraseExists      = &Error{Kind: KindConflict, Msg: "login phrase already exists"}
	ErrIllegalTransition = &Error{Kind: KindConflict, Msg: "illegal phrase transition"}

	ErrSubscriptionConflict = &Error{Kind: KindConflict, Msg: "login phrase already has a subscriber"}
	ErrHubClosed            = &Error{Kind: KindInternal, Msg: "notification hub closed"}
)

// Validation returns a validation error with the given message
func Validation(msg string) error {
	return &Error{Kind: KindValidation, Msg: msg}
}

// Internal wraps a store or runtime failure
func Internal(msg string, err error) error {
	return &Error{Kind: KindInternal, Msg: msg, Err: err}
}

// KindOf reports the kind of err, KindInternal for unclassified errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
