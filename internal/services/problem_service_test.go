package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/problem-board/internal/domain"
	"github.com/tbourn/problem-board/internal/repo"
)

// ----- Fake repo -----

type fakeProblemRepo struct {
	listFilter repo.ProblemFilter
	listItems  []domain.Problem
	listErr    error

	getID  string
	getP   *domain.Problem
	getErr error

	created   *domain.Problem
	createErr error

	updateID    string
	updatePatch repo.ProblemPatch
	updateErr   error

	deleteID  string
	deleteErr error
}

func (r *fakeProblemRepo) ListProblems(ctx context.Context, db *gorm.DB, f repo.ProblemFilter) ([]domain.Problem, error) {
	r.listFilter = f
	return r.listItems, r.listErr
}

func (r *fakeProblemRepo) GetProblem(ctx context.Context, db *gorm.DB, id string) (*domain.Problem, error) {
	r.getID = id
	return r.getP, r.getErr
}

func (r *fakeProblemRepo) CreateProblem(ctx context.Context, db *gorm.DB, p *domain.Problem) error {
	if r.createErr != nil {
		return r.createErr
	}
	p.ID = "p-new"
	r.created = p
	return nil
}

func (r *fakeProblemRepo) UpdateProblem(ctx context.Context, db *gorm.DB, id string, patch repo.ProblemPatch) (*domain.Problem, error) {
	r.updateID, r.updatePatch = id, patch
	if r.updateErr != nil {
		return nil, r.updateErr
	}
	return &domain.Problem{ID: id, Title: patch.Title, Description: patch.Description, Tags: patch.Tags}, nil
}

func (r *fakeProblemRepo) DeleteProblem(ctx context.Context, db *gorm.DB, id string) error {
	r.deleteID = id
	return r.deleteErr
}

// dbRepo adapts the repo package's free functions for tests that use a real DB.
type dbRepo struct{}

func (dbRepo) ListProblems(ctx context.Context, db *gorm.DB, f repo.ProblemFilter) ([]domain.Problem, error) {
	return repo.ListProblems(ctx, db, f)
}
func (dbRepo) GetProblem(ctx context.Context, db *gorm.DB, id string) (*domain.Problem, error) {
	return repo.GetProblem(ctx, db, id)
}
func (dbRepo) CreateProblem(ctx context.Context, db *gorm.DB, p *domain.Problem) error {
	return repo.CreateProblem(ctx, db, p)
}
func (dbRepo) UpdateProblem(ctx context.Context, db *gorm.DB, id string, patch repo.ProblemPatch) (*domain.Problem, error) {
	return repo.UpdateProblem(ctx, db, id, patch)
}
func (dbRepo) DeleteProblem(ctx context.Context, db *gorm.DB, id string) error {
	return repo.DeleteProblem(ctx, db, id)
}
func (dbRepo) CreateUser(ctx context.Context, db *gorm.DB, email, hash string) (*domain.User, error) {
	return repo.CreateUser(ctx, db, email, hash)
}
func (dbRepo) GetUserByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error) {
	return repo.GetUserByEmail(ctx, db, email)
}
func (dbRepo) GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	return repo.GetUser(ctx, db, id)
}

func newServiceDB(t *testing.T, migrate bool) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("svc_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if migrate {
		if err := repo.AutoMigrate(db); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

// ----- Tests -----

func TestProblemService_List_PassesFilterAndNeverNil(t *testing.T) {
	r := &fakeProblemRepo{}
	s := NewProblemService(nil, r)

	items, err := s.List(context.Background(), "u1", 5)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if items == nil || len(items) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", items)
	}
	if r.listFilter.UserID != "u1" || r.listFilter.Limit != 5 {
		t.Fatalf("filter not forwarded: %+v", r.listFilter)
	}
}

func TestProblemService_MissingTableMapsToNotConfigured(t *testing.T) {
	s := NewProblemService(newServiceDB(t, false), dbRepo{})

	if _, err := s.List(context.Background(), "", 0); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("List: expected ErrNotConfigured, got %v", err)
	}
	if _, err := s.Get(context.Background(), "x"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Get: expected ErrNotConfigured, got %v", err)
	}
	_, err := s.Create(context.Background(), "u1", ProblemInput{Title: "t", Description: "d"})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Create: expected ErrNotConfigured, got %v", err)
	}
}

func TestProblemService_Get_NotFound(t *testing.T) {
	r := &fakeProblemRepo{getErr: gorm.ErrRecordNotFound}
	s := NewProblemService(nil, r)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrProblemNotFound) {
		t.Fatalf("expected ErrProblemNotFound, got %v", err)
	}
}

func TestProblemService_Create_NormalizesInput(t *testing.T) {
	r := &fakeProblemRepo{}
	s := NewProblemService(nil, r)
	s.TitleMaxLen = 10

	req := "  bring tools  "
	p, err := s.Create(context.Background(), "u1", ProblemInput{
		Title:        "  A    very   long title here ",
		Description:  "  fix it  ",
		Requirements: &req,
		Tags:         []string{" go ", "", "go", "db"},
		ContactInfo:  &domain.ContactInfo{PreferredMethod: domain.ContactPhone},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.ID != "p-new" || p.UserID != "u1" {
		t.Fatalf("unexpected identity fields: %+v", p)
	}
	if p.Title != "A very lon" || p.Description != "fix it" || *p.Requirements != "bring tools" {
		t.Fatalf("normalization failed: %+v", p)
	}
	if !reflect.DeepEqual([]string(p.Tags), []string{"go", "db"}) {
		t.Fatalf("tags = %v", p.Tags)
	}
	if p.ContactInfo != nil {
		t.Fatalf("contact info without channels should be absent, got %+v", p.ContactInfo)
	}
}

func TestProblemService_Create_Rules(t *testing.T) {
	s := NewProblemService(nil, &fakeProblemRepo{})
	ctx := context.Background()

	if _, err := s.Create(ctx, "", ProblemInput{Title: "t", Description: "d"}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	_, err := s.Create(ctx, "u1", ProblemInput{UserID: "u2", Title: "t", Description: "d"})
	if !errors.Is(err, ErrForbidden) || !strings.Contains(err.Error(), "mismatch") {
		t.Fatalf("expected ErrForbidden mismatch, got %v", err)
	}
	if _, err := s.Create(ctx, "u1", ProblemInput{Title: "   ", Description: "d"}); !errors.Is(err, ErrInvalidProblem) {
		t.Fatalf("expected ErrInvalidProblem for blank title, got %v", err)
	}
	if _, err := s.Create(ctx, "u1", ProblemInput{Title: "t", Description: "\n"}); !errors.Is(err, ErrInvalidProblem) {
		t.Fatalf("expected ErrInvalidProblem for blank description, got %v", err)
	}
}

func TestProblemService_Update_ChecksExistenceThenOwnership(t *testing.T) {
	ctx := context.Background()

	r := &fakeProblemRepo{getErr: gorm.ErrRecordNotFound}
	s := NewProblemService(nil, r)
	if _, err := s.Update(ctx, "u1", "p1", ProblemInput{Title: "t", Description: "d"}); !errors.Is(err, ErrProblemNotFound) {
		t.Fatalf("expected ErrProblemNotFound, got %v", err)
	}

	r = &fakeProblemRepo{getP: &domain.Problem{ID: "p1", UserID: "owner"}}
	s = NewProblemService(nil, r)
	if _, err := s.Update(ctx, "intruder", "p1", ProblemInput{Title: "t", Description: "d"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if r.updateID != "" {
		t.Fatalf("repo must not be called for forbidden update")
	}

	out, err := s.Update(ctx, "owner", "p1", ProblemInput{Title: " New ", Description: "D", Tags: []string{"a", "a"}})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if r.updateID != "p1" || r.updatePatch.Title != "New" || !reflect.DeepEqual(r.updatePatch.Tags, []string{"a"}) {
		t.Fatalf("unexpected patch: id=%s %+v", r.updateID, r.updatePatch)
	}
	if out.Title != "New" {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestProblemService_Delete(t *testing.T) {
	ctx := context.Background()
	r := &fakeProblemRepo{getP: &domain.Problem{ID: "p1", UserID: "owner"}}
	s := NewProblemService(nil, r)

	if err := s.Delete(ctx, "", "p1"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if err := s.Delete(ctx, "other", "p1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := s.Delete(ctx, "owner", "p1"); err != nil || r.deleteID != "p1" {
		t.Fatalf("Delete: err=%v deleteID=%q", err, r.deleteID)
	}

	r.deleteErr = gorm.ErrRecordNotFound
	if err := s.Delete(ctx, "owner", "p1"); !errors.Is(err, ErrProblemNotFound) {
		t.Fatalf("expected ErrProblemNotFound when row vanished, got %v", err)
	}
}

func TestProblemService_CreateIdempotent_ReplaysSameKey(t *testing.T) {
	db := newServiceDB(t, true)
	s := NewProblemService(db, dbRepo{})
	ctx := context.Background()
	in := ProblemInput{Title: "Roof", Description: "Leaks"}

	first, replayed, err := s.CreateIdempotent(ctx, "u1", "key-1", in)
	if err != nil || replayed {
		t.Fatalf("first create: replayed=%v err=%v", replayed, err)
	}
	second, replayed, err := s.CreateIdempotent(ctx, "u1", "key-1", in)
	if err != nil || !replayed || second.ID != first.ID {
		t.Fatalf("replay: id=%s first=%s replayed=%v err=%v", second.ID, first.ID, replayed, err)
	}

	// Different user, same key: independent creation.
	other, replayed, err := s.CreateIdempotent(ctx, "u2", "key-1", in)
	if err != nil || replayed || other.ID == first.ID {
		t.Fatalf("other user: %+v replayed=%v err=%v", other, replayed, err)
	}

	// No key: always creates.
	a, _, _ := s.CreateIdempotent(ctx, "u1", "", in)
	b, _, _ := s.CreateIdempotent(ctx, "u1", "", in)
	if a.ID == b.ID {
		t.Fatalf("keyless creates must not replay")
	}

	all, err := s.List(ctx, "", 0)
	if err != nil || len(all) != 4 {
		t.Fatalf("expected 4 problems, got %d err=%v", len(all), err)
	}
}

func TestProblemService_CreateIdempotent_RecreatesAfterDelete(t *testing.T) {
	db := newServiceDB(t, true)
	s := NewProblemService(db, dbRepo{})
	ctx := context.Background()
	in := ProblemInput{Title: "Fence", Description: "Broken"}

	first, _, err := s.CreateIdempotent(ctx, "u1", "k", in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Delete(ctx, "u1", first.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	again, replayed, err := s.CreateIdempotent(ctx, "u1", "k", in)
	if err != nil || replayed || again.ID == first.ID {
		t.Fatalf("expected fresh create, got %+v replayed=%v err=%v", again, replayed, err)
	}
}
