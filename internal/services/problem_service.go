// Package services – ProblemService
//
// ProblemService owns the rules around problem listings: input
// normalization, ownership of writes, and safe retries of creation through
// idempotency keys. Persistence is delegated to a ProblemRepo.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// the problem and user ids.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/problem-board/internal/domain"
	"github.com/tbourn/problem-board/internal/repo"
)

// ProblemRepo defines the repository contract required by ProblemService.
type ProblemRepo interface {
	ListProblems(ctx context.Context, db *gorm.DB, f repo.ProblemFilter) ([]domain.Problem, error)
	GetProblem(ctx context.Context, db *gorm.DB, id string) (*domain.Problem, error)
	CreateProblem(ctx context.Context, db *gorm.DB, p *domain.Problem) error
	UpdateProblem(ctx context.Context, db *gorm.DB, id string, patch repo.ProblemPatch) (*domain.Problem, error)
	DeleteProblem(ctx context.Context, db *gorm.DB, id string) error
}

// ProblemInput is the caller-supplied part of a problem. UserID is only
// checked against the actor; ownership always comes from the actor.
type ProblemInput struct {
	UserID       string
	Title        string
	Description  string
	Requirements *string
	Tags         []string
	ContactInfo  *domain.ContactInfo
}

// ProblemService provides listing, retrieval and owner-only mutation of
// problems.
type ProblemService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the problem repository used by this service.
	Repo ProblemRepo

	// TitleMaxLen caps stored titles by rune length.
	TitleMaxLen int
	// IdempotencyTTL bounds how long a creation can be replayed.
	IdempotencyTTL time.Duration

	now func() time.Time
}

// NewProblemService constructs a ProblemService with default limits.
func NewProblemService(db *gorm.DB, r ProblemRepo) *ProblemService {
	return &ProblemService{
		DB:             db,
		Repo:           r,
		TitleMaxLen:    200,
		IdempotencyTTL: 24 * time.Hour,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// List returns problems newest first; a non-empty userID restricts the
// result to that owner and a positive limit caps the result size.
func (s *ProblemService) List(ctx context.Context, userID string, limit int) ([]domain.Problem, error) {
	ctx, span := otel.Tracer("services/ProblemService").Start(ctx, "List",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	items, err := s.Repo.ListProblems(ctx, s.DB, repo.ProblemFilter{UserID: userID, Limit: limit})
	if err != nil {
		return nil, s.fail(span, err)
	}
	if items == nil {
		items = []domain.Problem{}
	}
	return items, nil
}

// Get returns a single problem or ErrProblemNotFound.
func (s *ProblemService) Get(ctx context.Context, id string) (*domain.Problem, error) {
	ctx, span := otel.Tracer("services/ProblemService").Start(ctx, "Get",
		trace.WithAttributes(attribute.String("problem.id", id)),
	)
	defer span.End()

	p, err := s.Repo.GetProblem(ctx, s.DB, id)
	if err != nil {
		return nil, s.fail(span, err)
	}
	return p, nil
}

// Create inserts a problem owned by actorID.
//
// Rules:
//   - actorID must be non-empty (ErrUnauthenticated).
//   - in.UserID, when set, must equal actorID (ErrForbidden).
//   - Title and description are required after trimming (ErrInvalidProblem).
//   - Tags are trimmed and de-duplicated; contact info without any channel
//     is stored as absent.
func (s *ProblemService) Create(ctx context.Context, actorID string, in ProblemInput) (*domain.Problem, error) {
	ctx, span := otel.Tracer("services/ProblemService").Start(ctx, "Create",
		trace.WithAttributes(attribute.String("user.id", actorID)),
	)
	defer span.End()

	if strings.TrimSpace(actorID) == "" {
		return nil, s.fail(span, ErrUnauthenticated)
	}
	if in.UserID != "" && in.UserID != actorID {
		return nil, s.fail(span, fmt.Errorf("%w: user id mismatch", ErrForbidden))
	}
	p, err := s.build(in)
	if err != nil {
		return nil, s.fail(span, err)
	}
	p.UserID = actorID
	if err := s.Repo.CreateProblem(ctx, s.DB, p); err != nil {
		return nil, s.fail(span, err)
	}
	span.SetAttributes(attribute.String("problem.id", p.ID))
	return p, nil
}

// CreateIdempotent behaves like Create but, when key is non-empty, replays
// the problem created earlier by the same actor with the same key. The
// boolean reports whether the result is a replay.
func (s *ProblemService) CreateIdempotent(ctx context.Context, actorID, key string, in ProblemInput) (*domain.Problem, bool, error) {
	if key != "" && actorID != "" {
		rec, err := repo.GetIdempotency(ctx, s.DB, actorID, key, s.clock())
		switch {
		case err == nil:
			p, gerr := s.Get(ctx, rec.ProblemID)
			if gerr == nil {
				return p, true, nil
			}
			if !errors.Is(gerr, ErrProblemNotFound) {
				return nil, false, gerr
			}
			// The replayed problem was deleted since; fall through and create anew.
		case !isNotFound(err):
			if repo.IsMissingTable(err) {
				return nil, false, fmt.Errorf("%w: %v", ErrNotConfigured, err)
			}
			return nil, false, err
		}
	}

	p, err := s.Create(ctx, actorID, in)
	if err != nil {
		return nil, false, err
	}
	if key != "" {
		// Best-effort; a lost record only costs a duplicate on retry.
		if _, err := repo.CreateIdempotency(ctx, s.DB, actorID, key, p.ID, http.StatusCreated, s.IdempotencyTTL); err != nil && !isDuplicate(err) {
			log.Warn().Err(err).Str("user_id", actorID).Str("problem_id", p.ID).Msg("idempotency store failed")
		}
	}
	return p, false, nil
}

// Update overwrites the editable fields of problem id. The problem must
// exist (ErrProblemNotFound) and be owned by actorID (ErrForbidden).
func (s *ProblemService) Update(ctx context.Context, actorID, id string, in ProblemInput) (*domain.Problem, error) {
	ctx, span := otel.Tracer("services/ProblemService").Start(ctx, "Update",
		trace.WithAttributes(
			attribute.String("problem.id", id),
			attribute.String("user.id", actorID),
		),
	)
	defer span.End()

	if err := s.authorize(ctx, actorID, id); err != nil {
		return nil, s.fail(span, err)
	}
	p, err := s.build(in)
	if err != nil {
		return nil, s.fail(span, err)
	}
	out, err := s.Repo.UpdateProblem(ctx, s.DB, id, repo.ProblemPatch{
		Title:        p.Title,
		Description:  p.Description,
		Requirements: p.Requirements,
		Tags:         p.Tags,
		ContactInfo:  p.ContactInfo,
	})
	if err != nil {
		return nil, s.fail(span, err)
	}
	return out, nil
}

// Delete removes problem id after the same checks as Update.
func (s *ProblemService) Delete(ctx context.Context, actorID, id string) error {
	ctx, span := otel.Tracer("services/ProblemService").Start(ctx, "Delete",
		trace.WithAttributes(
			attribute.String("problem.id", id),
			attribute.String("user.id", actorID),
		),
	)
	defer span.End()

	if err := s.authorize(ctx, actorID, id); err != nil {
		return s.fail(span, err)
	}
	if err := s.Repo.DeleteProblem(ctx, s.DB, id); err != nil {
		return s.fail(span, err)
	}
	return nil
}

func (s *ProblemService) authorize(ctx context.Context, actorID, id string) error {
	if strings.TrimSpace(actorID) == "" {
		return ErrUnauthenticated
	}
	cur, err := s.Repo.GetProblem(ctx, s.DB, id)
	if err != nil {
		return err
	}
	if !cur.OwnedBy(actorID) {
		return ErrForbidden
	}
	return nil
}

// build validates and normalizes in into a new, unsaved problem.
func (s *ProblemService) build(in ProblemInput) (*domain.Problem, error) {
	title := s.clip(normalizeText(in.Title))
	desc := strings.TrimSpace(norm.NFC.String(in.Description))
	if title == "" || desc == "" {
		return nil, ErrInvalidProblem
	}
	var req *string
	if in.Requirements != nil {
		r := strings.TrimSpace(norm.NFC.String(*in.Requirements))
		req = &r
	}
	return &domain.Problem{
		Title:        title,
		Description:  desc,
		Requirements: req,
		Tags:         domain.CleanTags(in.Tags),
		ContactInfo:  in.ContactInfo.Normalize(),
	}, nil
}

// fail maps repository errors to service sentinels and records them on span.
func (s *ProblemService) fail(span trace.Span, err error) error {
	switch {
	case isNotFound(err):
		err = ErrProblemNotFound
	case repo.IsMissingTable(err):
		err = fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (s *ProblemService) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}

// clip truncates a title to the configured maximum rune length.
func (s *ProblemService) clip(title string) string {
	if s.TitleMaxLen > 0 && utf8.RuneCountInString(title) > s.TitleMaxLen {
		return string([]rune(title)[:s.TitleMaxLen])
	}
	return title
}

// normalizeText applies NFC, trims, and collapses runs of whitespace.
func normalizeText(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(norm.NFC.String(s)), " ")
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)
