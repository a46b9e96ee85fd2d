// Package services defines the business logic for problems and accounts.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/problem-board/internal/repo"
)

// Problem-related errors.
var (
	// ErrProblemNotFound indicates that the requested problem does not exist.
	ErrProblemNotFound = errors.New("problem not found")

	// ErrForbidden is returned when the caller does not own the problem it is
	// trying to change, or claims to act for another user.
	ErrForbidden = errors.New("not allowed to modify this problem")

	// ErrInvalidProblem is returned when a title or description is blank.
	ErrInvalidProblem = errors.New("title and description are required")

	// ErrNotConfigured is returned when the backing tables do not exist yet.
	ErrNotConfigured = errors.New("problems table does not exist")

	// ErrUnauthenticated is returned when a write is attempted without a user.
	ErrUnauthenticated = errors.New("authentication required")
)

// Account and token errors.
var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password must be at least 6 characters")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
)

// isNotFound treats repo-level not found sentinels as "not found".
func isNotFound(err error) bool {
	return errors.Is(err, repo.ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound)
}

// isDuplicate detects unique-constraint violations across drivers that may
// not map to gorm.ErrDuplicatedKey.
func isDuplicate(err error) bool {
	if errors.Is(err, repo.ErrDuplicate) || errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}
