package store

import (
	"errors"
	"net/http"
	"strings"

	"github.com/tbourn/problem-board/internal/gateway"
)

// Kind classifies a failed store operation.
type Kind int

const (
	// Generic is any failure without a more specific kind.
	Generic Kind = iota
	// NotConfigured means the backing problems table is missing.
	NotConfigured
	// AuthRequired means no signed-in identity, or the wrong one.
	AuthRequired
	// NotFound means a single-record fetch found nothing.
	NotFound
)

func (k Kind) String() string {
	switch k {
	case NotConfigured:
		return "not_configured"
	case AuthRequired:
		return "auth_required"
	case NotFound:
		return "not_found"
	default:
		return "generic"
	}
}

// MsgNotConfigured is shown for every operation when the schema is missing.
const MsgNotConfigured = "The problems table doesn't exist. Please run the database setup script."

// Error is the classified failure kept in State.Error and returned by
// Create, Update and Remove.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// Is matches another *Error of the same Kind, so callers can write
// errors.Is(err, &store.Error{Kind: store.NotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(k Kind, msg string) *Error { return &Error{Kind: k, Message: msg} }

// KindOf returns the Kind of err, or Generic when err is not a store error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Generic
}

// Classify maps a gateway failure onto the most specific Kind available.
// The Generic message is the backing message, unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}

	var ge *gateway.Error
	if errors.As(err, &ge) {
		switch {
		case ge.Code == gateway.CodeUndefinedTable || missingRelation(ge.Message):
			return newError(NotConfigured, MsgNotConfigured)
		case ge.Status == http.StatusUnauthorized || ge.Status == http.StatusForbidden,
			ge.Code == "unauthorized", ge.Code == "forbidden", ge.Code == "invalid_credentials":
			return newError(AuthRequired, ge.Message)
		case ge.Status == http.StatusNotFound || ge.Code == "not_found":
			return newError(NotFound, ge.Message)
		}
		return newError(Generic, ge.Message)
	}

	if missingRelation(err.Error()) {
		return newError(NotConfigured, MsgNotConfigured)
	}
	return newError(Generic, err.Error())
}

func missingRelation(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "relation") && strings.Contains(m, "does not exist")
}
