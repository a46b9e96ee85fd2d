// Auth HTTP handlers.
//
// This file exposes the identity endpoints:
//   - POST /auth/signup   (register, returns a session)
//   - POST /auth/signin   (email + password, returns a session)
//   - POST /auth/signout  (stateless; always 204)
//   - GET  /auth/user     (current identity, requires a Bearer token)
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/problem-board/internal/domain"
	"github.com/tbourn/problem-board/internal/http/middleware"
	"github.com/tbourn/problem-board/internal/services"
)

// AuthService defines the identity operations consumed by HTTP handlers.
type AuthService interface {
	SignUp(ctx context.Context, email, password string) (*services.Session, error)
	SignIn(ctx context.Context, email, password string) (*services.Session, error)
}

// Handlers groups the HTTP endpoints. It depends on service interfaces only.
type Handlers struct {
	problems ProblemService
	auth     AuthService
}

// New constructs a Handlers instance bound to the given services.
func New(problems ProblemService, auth AuthService) *Handlers {
	return &Handlers{problems: problems, auth: auth}
}

// CredentialsRequest is the JSON payload for sign-up and sign-in.
type CredentialsRequest struct {
	Email    string `json:"email" binding:"required" example:"ada@example.com"`
	Password string `json:"password" binding:"required" example:"correct-horse"`
}

// SessionResponse carries an access token and the identity it belongs to.
type SessionResponse struct {
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type" example:"bearer"`
	ExpiresAt   time.Time       `json:"expires_at"`
	User        domain.Identity `json:"user"`
}

func sessionResponse(s *services.Session) SessionResponse {
	return SessionResponse{
		AccessToken: s.AccessToken,
		TokenType:   "bearer",
		ExpiresAt:   s.ExpiresAt.UTC(),
		User:        s.User,
	}
}

// SignUp godoc
// @ID          signUp
// @Summary     Register an account
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.CredentialsRequest  true  "Credentials"
// @Success     201   {object}  handlers.SessionResponse
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     409   {object}  handlers.ErrorResponse "Email already registered"
// @Router      /auth/signup [post]
func (h *Handlers) SignUp(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "email and password are required")
		return
	}
	s, err := h.auth.SignUp(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		failService(c, err, ErrCodeAuthFailed)
		return
	}
	ok(c, http.StatusCreated, sessionResponse(s))
}

// SignIn godoc
// @ID          signIn
// @Summary     Sign in with email and password
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.CredentialsRequest  true  "Credentials"
// @Success     200   {object}  handlers.SessionResponse
// @Failure     401   {object}  handlers.ErrorResponse "Invalid credentials"
// @Router      /auth/signin [post]
func (h *Handlers) SignIn(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "email and password are required")
		return
	}
	s, err := h.auth.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		failService(c, err, ErrCodeAuthFailed)
		return
	}
	ok(c, http.StatusOK, sessionResponse(s))
}

// SignOut godoc
// @ID          signOut
// @Summary     Sign out
// @Description Tokens are stateless; clients discard theirs.
// @Tags        Auth
// @Success     204  {string}  string "No Content"
// @Router      /auth/signout [post]
func (h *Handlers) SignOut(c *gin.Context) {
	if uid := middleware.UserID(c); uid != "" {
		middleware.LoggerFrom(c).Info().Str("user_id", uid).Msg("signed out")
	}
	noContent(c)
}

// CurrentUser godoc
// @ID          currentUser
// @Summary     Current identity
// @Tags        Auth
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  domain.Identity
// @Failure     401  {object}  handlers.ErrorResponse
// @Router      /auth/user [get]
func (h *Handlers) CurrentUser(c *gin.Context) {
	id, found := middleware.IdentityFrom(c)
	if !found {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
		return
	}
	ok(c, http.StatusOK, id)
}
