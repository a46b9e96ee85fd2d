// Problem HTTP handlers.
//
// This file exposes REST endpoints for problem listings:
//   - GET    /problems        (list, optional ?user_id= and ?limit=, weak ETag)
//   - GET    /problems/{id}   (fetch one)
//   - POST   /problems        (create, Idempotency-Key aware)
//   - PATCH  /problems/{id}   (owner-only edit)
//   - DELETE /problems/{id}   (owner-only delete)
//
// Handlers are transport-thin: they bind input, call the ProblemService and
// translate results into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/problem-board/internal/domain"
	"github.com/tbourn/problem-board/internal/http/middleware"
	"github.com/tbourn/problem-board/internal/repo"
	"github.com/tbourn/problem-board/internal/services"
	"github.com/tbourn/problem-board/internal/utils"
)

// maxListLimit caps ?limit=.
const maxListLimit = 500

// ProblemService defines the problem operations consumed by HTTP handlers.
// Implementations must be safe for concurrent use and honor ctx.
type ProblemService interface {
	List(ctx context.Context, userID string, limit int) ([]domain.Problem, error)
	Get(ctx context.Context, id string) (*domain.Problem, error)
	CreateIdempotent(ctx context.Context, actorID, key string, in services.ProblemInput) (*domain.Problem, bool, error)
	Update(ctx context.Context, actorID, id string, in services.ProblemInput) (*domain.Problem, error)
	Delete(ctx context.Context, actorID, id string) error
}

// ProblemRequest is the JSON payload for creating or editing a problem.
// Edits overwrite every editable field.
type ProblemRequest struct {
	// UserID, when sent on create, must match the caller.
	UserID       string              `json:"user_id,omitempty" example:"5f0c6f1e-7a43-4c55-9b1e-2b9c9b1f0a11"`
	Title        string              `json:"title" example:"Garden irrigation keeps clogging"`
	Description  string              `json:"description" example:"The drip lines clog every week."`
	Requirements *string             `json:"requirements" example:"Must work without mains water"`
	Tags         []string            `json:"tags" example:"garden,water"`
	ContactInfo  *domain.ContactInfo `json:"contact_info"`
}

func (r ProblemRequest) input() services.ProblemInput {
	return services.ProblemInput{
		UserID:       strings.TrimSpace(r.UserID),
		Title:        r.Title,
		Description:  r.Description,
		Requirements: r.Requirements,
		Tags:         r.Tags,
		ContactInfo:  r.ContactInfo,
	}
}

// ListProblems godoc
// @ID          listProblems
// @Summary     List problems
// @Description Returns problems newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Problems
// @Produce     json
// @Param       user_id        query   string  false "Only problems owned by this user"
// @Param       limit          query   int     false "Maximum number of problems"  minimum(1)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Success     200  {array}   domain.Problem
// @Success     304  {string}  string "Not Modified"
// @Failure     503  {object}  handlers.ErrorResponse "Schema not set up (code 42P01)"
// @Router      /problems [get]
func (h *Handlers) ListProblems(c *gin.Context) {
	ctx := c.Request.Context()
	owner := strings.TrimSpace(c.Query("user_id"))
	limit := utils.ParseLimit(c.Query("limit"), maxListLimit)

	// ETag pre-check (best effort).
	if svc, isSvc := h.problems.(*services.ProblemService); isSvc && svc.DB != nil {
		if count, maxTS, err := repo.ProblemsStats(ctx, svc.DB, owner); err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.UnixNano()
			}
			scope := owner
			if scope == "" {
				scope = "*"
			}
			etag := fmt.Sprintf(`W/"problems:%s:%d:%d:%d"`, scope, limit, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, err := h.problems.List(ctx, owner, limit)
	if err != nil {
		failService(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, items)
}

// GetProblem godoc
// @ID          getProblem
// @Summary     Fetch a problem
// @Tags        Problems
// @Produce     json
// @Param       id   path      string  true  "Problem ID"
// @Success     200  {object}  domain.Problem
// @Failure     404  {object}  handlers.ErrorResponse "Problem not found"
// @Router      /problems/{id} [get]
func (h *Handlers) GetProblem(c *gin.Context) {
	p, err := h.problems.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failService(c, err, ErrCodeFetchFailed)
		return
	}
	ok(c, http.StatusOK, p)
}

// CreateProblem godoc
// @ID          createProblem
// @Summary     Create a problem
// @Description Creates a problem owned by the caller. A repeated Idempotency-Key replays the first result with Idempotency-Replayed: true.
// @Tags        Problems
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string                   false "Client retry key"
// @Param       body             body    handlers.ProblemRequest  true  "Problem"
// @Success     201  {object}  domain.Problem
// @Success     200  {object}  domain.Problem "Replayed"
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     403  {object}  handlers.ErrorResponse "User ID mismatch"
// @Router      /problems [post]
func (h *Handlers) CreateProblem(c *gin.Context) {
	var req ProblemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	key, _ := middleware.GetIdempotencyKey(c)

	p, replayed, err := h.problems.CreateIdempotent(c.Request.Context(), middleware.UserID(c), key, req.input())
	if err != nil {
		middleware.ObserveProblemWrite("create", outcome(err))
		failService(c, err, ErrCodeCreateFailed)
		return
	}
	if replayed {
		middleware.ObserveProblemWrite("create", "replayed")
		c.Header("Idempotency-Replayed", "true")
		ok(c, http.StatusOK, p)
		return
	}
	middleware.ObserveProblemWrite("create", "ok")
	middleware.LoggerFrom(c).Info().Str("problem_id", p.ID).Msg("problem created")
	ok(c, http.StatusCreated, p)
}

// UpdateProblem godoc
// @ID          updateProblem
// @Summary     Edit a problem
// @Tags        Problems
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path  string                   true "Problem ID"
// @Param       body  body  handlers.ProblemRequest  true "Editable fields"
// @Success     200  {object}  domain.Problem
// @Failure     403  {object}  handlers.ErrorResponse "Not the owner"
// @Failure     404  {object}  handlers.ErrorResponse "Problem not found"
// @Router      /problems/{id} [patch]
func (h *Handlers) UpdateProblem(c *gin.Context) {
	var req ProblemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	p, err := h.problems.Update(c.Request.Context(), middleware.UserID(c), c.Param("id"), req.input())
	if err != nil {
		middleware.ObserveProblemWrite("update", outcome(err))
		failService(c, err, ErrCodeUpdateFailed)
		return
	}
	middleware.ObserveProblemWrite("update", "ok")
	ok(c, http.StatusOK, p)
}

// DeleteProblem godoc
// @ID          deleteProblem
// @Summary     Delete a problem
// @Tags        Problems
// @Security    BearerAuth
// @Param       id  path  string  true  "Problem ID"
// @Success     204  {string}  string "No Content"
// @Failure     403  {object}  handlers.ErrorResponse "Not the owner"
// @Failure     404  {object}  handlers.ErrorResponse "Problem not found"
// @Router      /problems/{id} [delete]
func (h *Handlers) DeleteProblem(c *gin.Context) {
	if err := h.problems.Delete(c.Request.Context(), middleware.UserID(c), c.Param("id")); err != nil {
		middleware.ObserveProblemWrite("delete", outcome(err))
		failService(c, err, ErrCodeDeleteFailed)
		return
	}
	middleware.ObserveProblemWrite("delete", "ok")
	noContent(c)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, services.ErrForbidden):
		return "forbidden"
	case errors.Is(err, services.ErrProblemNotFound):
		return "not_found"
	case errors.Is(err, services.ErrInvalidProblem):
		return "invalid"
	default:
		return "error"
	}
}
