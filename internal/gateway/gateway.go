// Package gateway is the client side of the problem service: the remote
// data store and identity provider the Problem Store talks to.
//
// Every call either succeeds or returns an error; non-2xx responses are
// reported as *Error carrying the service's machine-readable code.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/tbourn/problem-board/internal/domain"
)

// CodeUndefinedTable is reported when the problems relation is missing.
const CodeUndefinedTable = "42P01"

// ListQuery filters ListProblems. The zero value lists everything.
type ListQuery struct {
	UserID string
	Limit  int
}

// NewProblem is the payload of InsertProblem. The service assigns id and
// timestamps.
type NewProblem struct {
	UserID       string              `json:"user_id"`
	Title        string              `json:"title"`
	Description  string              `json:"description"`
	Requirements *string             `json:"requirements"`
	Tags         []string            `json:"tags"`
	ContactInfo  *domain.ContactInfo `json:"contact_info"`

	// IdempotencyKey is sent as Idempotency-Key; one is generated when empty.
	IdempotencyKey string `json:"-"`
}

// ProblemUpdate carries the editable fields of a problem.
type ProblemUpdate struct {
	Title        string              `json:"title"`
	Description  string              `json:"description"`
	Requirements *string             `json:"requirements"`
	Tags         []string            `json:"tags"`
	ContactInfo  *domain.ContactInfo `json:"contact_info"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// Problems is row CRUD over the problems table.
type Problems interface {
	ListProblems(ctx context.Context, q ListQuery) ([]domain.Problem, error)
	GetProblem(ctx context.Context, id string) (*domain.Problem, error)
	InsertProblem(ctx context.Context, p NewProblem) (*domain.Problem, error)
	UpdateProblem(ctx context.Context, id string, u ProblemUpdate) (*domain.Problem, error)
	DeleteProblem(ctx context.Context, id string) error
}

// Auth is the identity provider. CurrentUser returns (nil, nil) when there
// is no session.
type Auth interface {
	CurrentUser(ctx context.Context) (*domain.Identity, error)
	SignIn(ctx context.Context, email, password string) (*domain.Identity, error)
	SignUp(ctx context.Context, email, password string) (*domain.Identity, error)
	SignOut(ctx context.Context) error
}

// Gateway is everything the client core consumes.
type Gateway interface {
	Problems
	Auth
}

// Error is a failed call as reported by the service.
type Error struct {
	Status    int
	Code      string
	Message   string
	RequestID string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("gateway: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("gateway: %s (%d): %s", e.Code, e.Status, e.Message)
}
