// Package session holds the signed-in identity on the client side.
//
// It mirrors the identity provider's view and nothing more: the Problem
// Store never reads it, callers pass UserID() into store operations.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/problem-board/internal/domain"
	"github.com/tbourn/problem-board/internal/gateway"
)

// State is a copy of the session.
type State struct {
	User      *domain.Identity
	IsLoading bool
	Error     string
}

// Session tracks the current identity. It is safe for concurrent use.
type Session struct {
	auth gateway.Auth
	log  zerolog.Logger

	mu       sync.Mutex
	st       State
	inflight int
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger Fetch reports swallowed failures to.
func WithLogger(l zerolog.Logger) Option { return func(s *Session) { s.log = l } }

// New returns a signed-out session backed by auth.
func New(auth gateway.Auth, opts ...Option) *Session {
	s := &Session{auth: auth, log: log.Logger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.st
	if s.st.User != nil {
		u := *s.st.User
		out.User = &u
	}
	return out
}

// UserID returns the signed-in user's id, or "" when signed out.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.User == nil {
		return ""
	}
	return s.st.User.ID
}

// Fetch restores the identity of an existing session. A failed lookup is
// treated as "no session": User becomes nil and Error stays empty.
func (s *Session) Fetch(ctx context.Context) *domain.Identity {
	s.begin()
	who, err := s.auth.CurrentUser(ctx)
	if err != nil {
		s.log.Debug().Err(err).Msg("no session")
		who = nil
	}
	s.mu.Lock()
	s.st.User = who
	s.finishLocked("")
	s.mu.Unlock()
	return copyIdentity(who)
}

// SignIn authenticates with email and password.
func (s *Session) SignIn(ctx context.Context, email, password string) error {
	return s.authenticate(ctx, s.auth.SignIn, email, password, "Failed to sign in")
}

// SignUp registers and signs in.
func (s *Session) SignUp(ctx context.Context, email, password string) error {
	return s.authenticate(ctx, s.auth.SignUp, email, password, "Failed to sign up")
}

type authFunc func(ctx context.Context, email, password string) (*domain.Identity, error)

func (s *Session) authenticate(ctx context.Context, fn authFunc, email, password, fallback string) error {
	s.begin()
	who, err := fn(ctx, strings.TrimSpace(email), password)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.finishLocked(messageOf(err, fallback))
		return err
	}
	s.st.User = who
	s.finishLocked("")
	return nil
}

// SignOut ends the session. On failure the user is kept and Error is set.
func (s *Session) SignOut(ctx context.Context) error {
	s.begin()
	err := s.auth.SignOut(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.finishLocked(messageOf(err, "Failed to sign out"))
		return err
	}
	s.st.User = nil
	s.finishLocked("")
	return nil
}

// ClearError clears the last error.
func (s *Session) ClearError() {
	s.mu.Lock()
	s.st.Error = ""
	s.mu.Unlock()
}

func (s *Session) begin() {
	s.mu.Lock()
	s.inflight++
	s.st.IsLoading = true
	s.st.Error = ""
	s.mu.Unlock()
}

func (s *Session) finishLocked(errMsg string) {
	if s.inflight > 0 {
		s.inflight--
	}
	s.st.IsLoading = s.inflight > 0
	if errMsg != "" {
		s.st.Error = errMsg
	}
}

// messageOf prefers the service's own message over the wrapped error text.
func messageOf(err error, fallback string) string {
	var ge *gateway.Error
	if errors.As(err, &ge) && ge.Message != "" {
		return ge.Message
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fallback
}

func copyIdentity(id *domain.Identity) *domain.Identity {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}
