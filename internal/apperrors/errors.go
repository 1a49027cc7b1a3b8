// Package apperrors defines the error taxonomy shared across the relay
// pipeline. Every failure surfaced to a user carries a Kind so channels can
// map it to the right stage label without string matching.
package apperrors

import (
	"context"
	"errors"
	"strings"
)

type Kind string

const (
	// KindConfig covers missing credentials and language pairs with no
	// configured model. Nothing was attempted remotely.
	KindConfig Kind = "configuration"
	// KindTranslation covers faults inside a translation model call.
	KindTranslation Kind = "translation"
	// KindGeneration covers faults inside a reply-generation call.
	KindGeneration Kind = "generation"
	// KindParse covers malformed inbound payloads.
	KindParse Kind = "parse"
	// KindTimeout covers external calls that hit their deadline.
	KindTimeout Kind = "timeout"
)

type Error struct {
	Kind Kind
	// SafeMessage is intended for user-facing output and logs.
	SafeMessage string
	// Cause keeps the original internal error for troubleshooting.
	Cause error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if msg := strings.TrimSpace(e.SafeMessage); msg != "" {
		return msg
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return "unknown error"
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func defaultSafeMessage(kind Kind) string {
	switch kind {
	case KindConfig:
		return "Service is not configured for this request."
	case KindTranslation:
		return "Translation service error."
	case KindGeneration:
		return "Reply generation error."
	case KindParse:
		return "Malformed request payload."
	case KindTimeout:
		return "Upstream call timed out."
	default:
		return "Request failed."
	}
}

func New(kind Kind, safeMessage string, cause error) error {
	msg := strings.TrimSpace(safeMessage)
	if msg == "" {
		msg = defaultSafeMessage(kind)
	}
	return &Error{
		Kind:        kind,
		SafeMessage: msg,
		Cause:       cause,
	}
}

func Config(msg string) error {
	return New(KindConfig, msg, nil)
}

func Translation(msg string, cause error) error {
	return New(KindTranslation, msg, cause)
}

func Generation(msg string, cause error) error {
	return New(KindGeneration, msg, cause)
}

func Parse(msg string) error {
	return New(KindParse, msg, nil)
}

func Timeout(msg string, cause error) error {
	return New(KindTimeout, msg, cause)
}

func KindOf(err error) (Kind, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return "", false
	}
	return e.Kind, true
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return err.Error()
}

// FromContext maps a context cancellation into the timeout kind so callers
// can report deadline hits distinctly from upstream faults. Errors that are
// not deadline related pass through unchanged.
func FromContext(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout(msg, err)
	}
	return err
}
