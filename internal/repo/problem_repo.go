// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Problem
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no ownership or validation rules, only persistence and query
// composition (see services.ProblemService for the rules).
//
// Error semantics:
//   - When a problem is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (missing table, constraint violations, connectivity),
//     the raw gorm error is propagated. Use IsMissingTable to detect an
//     unmigrated schema.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/problem-board/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ProblemFilter narrows ListProblems. The zero value lists every problem.
type ProblemFilter struct {
	UserID string
	// Limit caps the number of rows; <= 0 means no cap.
	Limit int
}

// ProblemPatch carries the editable fields of a problem. Every field is
// written, so nil Requirements or ContactInfo clear the stored value.
type ProblemPatch struct {
	Title        string
	Description  string
	Requirements *string
	Tags         []string
	ContactInfo  *domain.ContactInfo
}

// ListProblems returns problems matching f, newest first. Ties on
// created_at are broken by id so the order is stable.
func ListProblems(ctx context.Context, db *gorm.DB, f ProblemFilter) ([]domain.Problem, error) {
	q := db.WithContext(ctx)
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []domain.Problem
	err := q.Order("created_at desc").Order("id desc").Find(&out).Error
	return out, err
}

// GetProblem fetches a single problem by id or returns ErrNotFound.
func GetProblem(ctx context.Context, db *gorm.DB, id string) (*domain.Problem, error) {
	var p domain.Problem
	if err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProblem inserts p after assigning a UUID and UTC timestamps. Tags
// are stored as an empty array rather than NULL.
func CreateProblem(ctx context.Context, db *gorm.DB, p *domain.Problem) error {
	now := time.Now().UTC()
	p.ID = uuid.NewString()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Tags == nil {
		p.Tags = datatypes.JSONSlice[string]{}
	}
	return db.WithContext(ctx).Create(p).Error
}

// UpdateProblem overwrites the editable fields of problem id, refreshes
// updated_at and returns the stored row. It returns ErrNotFound if no row
// matched.
func UpdateProblem(ctx context.Context, db *gorm.DB, id string, patch ProblemPatch) (*domain.Problem, error) {
	tags := datatypes.JSONSlice[string](patch.Tags)
	if tags == nil {
		tags = datatypes.JSONSlice[string]{}
	}
	res := db.WithContext(ctx).
		Model(&domain.Problem{}).
		Where("id = ?", id).
		Select("title", "description", "requirements", "tags", "contact_info", "updated_at").
		Updates(&domain.Problem{
			Title:        patch.Title,
			Description:  patch.Description,
			Requirements: patch.Requirements,
			Tags:         tags,
			ContactInfo:  patch.ContactInfo,
			UpdatedAt:    time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return GetProblem(ctx, db, id)
}

// DeleteProblem removes problem id. It returns ErrNotFound if no row
// matched.
func DeleteProblem(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Problem{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
