// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and mirror HTTP semantics, with one
// exception: an unmigrated schema is reported with the Postgres SQLSTATE
// "42P01" (undefined_table) so clients can tell "backend not set up" apart
// from ordinary failures.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "forbidden",
//	  "message": "not allowed to modify this problem"
//	}
package handlers

const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeValidation         = "validation_failed"
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeInvalidCredentials = "invalid_credentials"
	ErrCodeForbidden          = "forbidden"
	ErrCodeNotFound           = "not_found"
	ErrCodeConflict           = "conflict"
	ErrCodeRateLimited        = "too_many_requests"
	ErrCodeInternal           = "internal_error"
	ErrCodeMethodNotAllowed   = "method_not_allowed"

	// ErrCodeUndefinedTable signals that the problems relation is missing.
	ErrCodeUndefinedTable = "42P01"

	// Domain-specific:
	ErrCodeCreateFailed = "create_failed"
	ErrCodeUpdateFailed = "update_failed"
	ErrCodeDeleteFailed = "delete_failed"
	ErrCodeListFailed   = "list_failed"
	ErrCodeFetchFailed  = "fetch_failed"
	ErrCodeAuthFailed   = "auth_failed"
)
