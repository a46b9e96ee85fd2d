package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/problem-board/internal/domain"
)

// REST talks to problem-server over HTTP with a Bearer session.
type REST struct {
	baseURL   string
	client    *http.Client
	tokenFile string
	log       zerolog.Logger
	now       func() time.Time

	mu    sync.RWMutex
	token TokenState
}

// Option configures a REST gateway.
type Option func(*REST)

// WithHTTPClient replaces the default client (whose Timeout is the one
// passed to NewREST).
func WithHTTPClient(c *http.Client) Option { return func(r *REST) { r.client = c } }

// WithTokenFile persists the session to path so a new process resumes it.
func WithTokenFile(path string) Option { return func(r *REST) { r.tokenFile = path } }

// WithLogger sets the logger used for best-effort failures.
func WithLogger(l zerolog.Logger) Option { return func(r *REST) { r.log = l } }

// NewREST builds a gateway for baseURL (e.g. http://localhost:8080/api/v1).
// When a token file is configured, a still-valid session in it is resumed.
func NewREST(baseURL string, timeout time.Duration, opts ...Option) (*REST, error) {
	r := &REST{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     log.Logger,
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	if r.tokenFile != "" {
		st, err := LoadToken(r.tokenFile)
		if err != nil {
			return nil, err
		}
		if st.Valid(r.now()) {
			r.token = st
		}
	}
	return r, nil
}

// Token returns the current session state.
func (r *REST) Token() TokenState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.token
}

func (r *REST) accessToken() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.token.Valid(r.now()) {
		return ""
	}
	return r.token.AccessToken
}

// ----- problems -----

func (r *REST) ListProblems(ctx context.Context, q ListQuery) ([]domain.Problem, error) {
	v := url.Values{}
	if q.UserID != "" {
		v.Set("user_id", q.UserID)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	path := "/problems"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	var out []domain.Problem
	if err := r.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.Problem{}
	}
	return out, nil
}

func (r *REST) GetProblem(ctx context.Context, id string) (*domain.Problem, error) {
	var p domain.Problem
	if err := r.do(ctx, http.MethodGet, "/problems/"+url.PathEscape(id), nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// InsertProblem creates a problem. A transport failure is retried once
// with the same Idempotency-Key, so the service creates at most one row.
func (r *REST) InsertProblem(ctx context.Context, p NewProblem) (*domain.Problem, error) {
	key := p.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	hdr := map[string]string{"Idempotency-Key": key}

	var out domain.Problem
	err := r.do(ctx, http.MethodPost, "/problems", hdr, p, &out)
	var gwErr *Error
	if err != nil && !errors.As(err, &gwErr) && ctx.Err() == nil {
		r.log.Warn().Err(err).Str("idempotency_key", key).Msg("insert failed, resending")
		err = r.do(ctx, http.MethodPost, "/problems", hdr, p, &out)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *REST) UpdateProblem(ctx context.Context, id string, u ProblemUpdate) (*domain.Problem, error) {
	var out domain.Problem
	if err := r.do(ctx, http.MethodPatch, "/problems/"+url.PathEscape(id), nil, u, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *REST) DeleteProblem(ctx context.Context, id string) error {
	return r.do(ctx, http.MethodDelete, "/problems/"+url.PathEscape(id), nil, nil, nil)
}

// ----- auth -----

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	AccessToken string          `json:"access_token"`
	ExpiresAt   time.Time       `json:"expires_at"`
	User        domain.Identity `json:"user"`
}

// CurrentUser asks the service who the stored token belongs to. Without a
// token it returns (nil, nil) and makes no request.
func (r *REST) CurrentUser(ctx context.Context) (*domain.Identity, error) {
	if r.accessToken() == "" {
		return nil, nil
	}
	var id domain.Identity
	if err := r.do(ctx, http.MethodGet, "/auth/user", nil, nil, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

func (r *REST) SignIn(ctx context.Context, email, password string) (*domain.Identity, error) {
	return r.authenticate(ctx, "/auth/signin", email, password)
}

func (r *REST) SignUp(ctx context.Context, email, password string) (*domain.Identity, error) {
	return r.authenticate(ctx, "/auth/signup", email, password)
}

func (r *REST) authenticate(ctx context.Context, path, email, password string) (*domain.Identity, error) {
	var s sessionResponse
	if err := r.do(ctx, http.MethodPost, path, nil, credentials{Email: email, Password: password}, &s); err != nil {
		return nil, err
	}
	if s.AccessToken == "" {
		return nil, &Error{Status: http.StatusBadGateway, Message: "no access token in response"}
	}
	st := TokenState{AccessToken: s.AccessToken, ExpiresAt: s.ExpiresAt, User: s.User}
	r.mu.Lock()
	r.token = st
	r.mu.Unlock()
	if r.tokenFile != "" {
		if err := SaveToken(r.tokenFile, st); err != nil {
			return nil, err
		}
	}
	id := s.User
	return &id, nil
}

// SignOut tells the service and forgets the local session. The local
// session is dropped even when the service call fails.
func (r *REST) SignOut(ctx context.Context) error {
	var callErr error
	if r.accessToken() != "" {
		callErr = r.do(ctx, http.MethodPost, "/auth/signout", nil, nil, nil)
		if callErr != nil {
			r.log.Warn().Err(callErr).Msg("sign-out call failed")
		}
	}
	r.mu.Lock()
	r.token = TokenState{}
	r.mu.Unlock()
	if r.tokenFile != "" {
		if err := ClearToken(r.tokenFile); err != nil {
			return err
		}
	}
	return nil
}

// forget drops tok when the service refuses it, so later calls go out
// anonymously instead of failing the same way. A session replaced in the
// meantime is kept.
func (r *REST) forget(tok string) {
	r.mu.Lock()
	if r.token.AccessToken != tok {
		r.mu.Unlock()
		return
	}
	r.token = TokenState{}
	r.mu.Unlock()
	r.log.Info().Msg("stored session rejected by the service; signed out locally")
	if r.tokenFile != "" {
		if err := ClearToken(r.tokenFile); err != nil {
			r.log.Warn().Err(err).Str("file", r.tokenFile).Msg("clear token file failed")
		}
	}
}

// ----- transport -----

const codeUnauthorized = "unauthorized"

type errorEnvelope struct {
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func (r *REST) do(ctx context.Context, method, path string, headers map[string]string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request failed: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	sent := r.accessToken()
	if sent != "" {
		req.Header.Set("Authorization", "Bearer "+sent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body failed: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		e := &Error{Status: resp.StatusCode, RequestID: resp.Header.Get("X-Request-ID")}
		var env errorEnvelope
		if json.Unmarshal(data, &env) == nil && (env.Code != "" || env.Message != "") {
			e.Code, e.Message = env.Code, env.Message
			if env.RequestID != "" {
				e.RequestID = env.RequestID
			}
		} else {
			e.Message = strings.TrimSpace(string(data))
		}
		if e.Message == "" {
			e.Message = http.StatusText(resp.StatusCode)
		}
		if sent != "" && e.Status == http.StatusUnauthorized && e.Code == codeUnauthorized {
			r.forget(sent)
		}
		return e
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response failed: %w", err)
	}
	return nil
}
