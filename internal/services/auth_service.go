// Package services – AuthService
//
// AuthService is the identity provider behind /auth: it registers users
// with bcrypt-hashed passwords and issues HS256 access tokens whose subject
// is the user id. Tokens are stateless; sign-out is a client-side concern.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/tbourn/problem-board/internal/domain"
)

const accessTokenType = "access"

// UserRepo defines the repository contract required by AuthService.
type UserRepo interface {
	CreateUser(ctx context.Context, db *gorm.DB, email, passwordHash string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error)
	GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error)
}

// Session is an issued access token together with the identity it speaks for.
type Session struct {
	AccessToken string
	ExpiresAt   time.Time
	User        domain.Identity
}

type tokenClaims struct {
	Email     string `json:"email"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// AuthService registers users, verifies credentials and issues tokens.
type AuthService struct {
	DB   *gorm.DB
	Repo UserRepo

	Secret   []byte
	Issuer   string
	TokenTTL time.Duration
	// MinPasswordLen is the shortest accepted password.
	MinPasswordLen int
	// BcryptCost is the work factor used for new hashes.
	BcryptCost int

	now func() time.Time
}

// NewAuthService constructs an AuthService with default token lifetime and
// hashing cost.
func NewAuthService(db *gorm.DB, r UserRepo, secret []byte, issuer string) *AuthService {
	return &AuthService{
		DB:             db,
		Repo:           r,
		Secret:         secret,
		Issuer:         issuer,
		TokenTTL:       24 * time.Hour,
		MinPasswordLen: 6,
		BcryptCost:     bcrypt.DefaultCost,
		now:            time.Now,
	}
}

// SignUp registers a new account and returns a session for it.
func (s *AuthService) SignUp(ctx context.Context, email, password string) (*Session, error) {
	ctx, span := otel.Tracer("services/AuthService").Start(ctx, "SignUp")
	defer span.End()

	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < s.MinPasswordLen {
		return nil, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u, err := s.Repo.CreateUser(ctx, s.DB, email, string(hash))
	if err != nil {
		if isDuplicate(err) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("user.id", u.ID))
	return s.issue(u.Identity())
}

// SignIn verifies credentials. Unknown emails and wrong passwords both
// yield ErrInvalidCredentials.
func (s *AuthService) SignIn(ctx context.Context, email, password string) (*Session, error) {
	ctx, span := otel.Tracer("services/AuthService").Start(ctx, "SignIn")
	defer span.End()

	email, err := normalizeEmail(email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	u, err := s.Repo.GetUserByEmail(ctx, s.DB, email)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	span.SetAttributes(attribute.String("user.id", u.ID))
	return s.issue(u.Identity())
}

// Authenticate validates a raw access token and returns the identity it
// belongs to. The user must still exist.
func (s *AuthService) Authenticate(ctx context.Context, raw string) (*domain.Identity, error) {
	ctx, span := otel.Tracer("services/AuthService").Start(ctx, "Authenticate")
	defer span.End()

	claims, err := s.parse(raw)
	if err != nil {
		return nil, err
	}
	u, err := s.Repo.GetUser(ctx, s.DB, claims.Subject)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("user.id", u.ID), attribute.Bool("auth.ok", true))
	id := u.Identity()
	return &id, nil
}

func (s *AuthService) issue(id domain.Identity) (*Session, error) {
	if len(s.Secret) == 0 {
		return nil, errors.New("token secret not configured")
	}
	now := s.clock()
	expiresAt := now.Add(s.TokenTTL)
	claims := tokenClaims{
		Email:     id.Email,
		TokenType: accessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			Issuer:    s.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Secret)
	if err != nil {
		return nil, fmt.Errorf("sign token failed: %w", err)
	}
	return &Session{AccessToken: raw, ExpiresAt: expiresAt, User: id}, nil
}

func (s *AuthService) parse(raw string) (*tokenClaims, error) {
	if raw == "" {
		return nil, ErrTokenInvalid
	}
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.Secret, nil
	}, jwt.WithTimeFunc(s.clock))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if s.Issuer != "" && claims.Issuer != s.Issuer {
		return nil, ErrTokenInvalid
	}
	if claims.TokenType != accessTokenType || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (s *AuthService) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return "", ErrInvalidEmail
	}
	return email, nil
}
