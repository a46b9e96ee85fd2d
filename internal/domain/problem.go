// Package domain defines the persistence models shared by the problem
// service and its clients. The same types travel over the wire as JSON and
// are mapped to tables with GORM.
package domain

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// ContactMethod names the channel a problem author prefers to be reached on.
type ContactMethod string

const (
	ContactEmail    ContactMethod = "email"
	ContactWhatsApp ContactMethod = "whatsapp"
	ContactPhone    ContactMethod = "phone"
	ContactTelegram ContactMethod = "telegram"
	ContactOther    ContactMethod = "other"
)

// Valid reports whether m is one of the known contact methods.
func (m ContactMethod) Valid() bool {
	switch m {
	case ContactEmail, ContactWhatsApp, ContactPhone, ContactTelegram, ContactOther:
		return true
	}
	return false
}

// ContactInfo is the optional set of channels attached to a problem.
// Every channel is free text; PreferredMethod defaults to email.
type ContactInfo struct {
	Email           string        `json:"email,omitempty"`
	WhatsApp        string        `json:"whatsapp,omitempty"`
	Phone           string        `json:"phone,omitempty"`
	Telegram        string        `json:"telegram,omitempty"`
	Other           string        `json:"other,omitempty"`
	PreferredMethod ContactMethod `json:"preferred_method,omitempty"`
}

// IsEmpty reports whether no channel carries a value. The preferred method
// alone does not make contact info meaningful.
func (c *ContactInfo) IsEmpty() bool {
	if c == nil {
		return true
	}
	for _, v := range []string{c.Email, c.WhatsApp, c.Phone, c.Telegram, c.Other} {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Normalize returns a trimmed copy of c with a valid preferred method, or
// nil when c carries no channel at all.
func (c *ContactInfo) Normalize() *ContactInfo {
	if c.IsEmpty() {
		return nil
	}
	out := ContactInfo{
		Email:           strings.TrimSpace(c.Email),
		WhatsApp:        strings.TrimSpace(c.WhatsApp),
		Phone:           strings.TrimSpace(c.Phone),
		Telegram:        strings.TrimSpace(c.Telegram),
		Other:           strings.TrimSpace(c.Other),
		PreferredMethod: ContactMethod(strings.ToLower(strings.TrimSpace(string(c.PreferredMethod)))),
	}
	if !out.PreferredMethod.Valid() {
		out.PreferredMethod = ContactEmail
	}
	return &out
}

// Problem is a user-submitted listing describing a problem its author wants
// solved.
//
// Fields:
//   - ID: UUID primary key assigned by the service.
//   - CreatedAt / UpdatedAt: UTC timestamps assigned by the service.
//   - Title, Description: required free text.
//   - Requirements: nil means "not specified" and is distinct from "".
//   - Tags: ordered labels, stored as a JSON array.
//   - UserID: id of the owning user; indexed for the "mine" listing.
//   - ContactInfo: nil when the author left every channel blank.
type Problem struct {
	ID           string                     `json:"id"           gorm:"type:char(36);primaryKey"`
	CreatedAt    time.Time                  `json:"created_at"   gorm:"index:idx_problems_created"`
	UpdatedAt    time.Time                  `json:"updated_at"`
	Title        string                     `json:"title"        gorm:"type:varchar(255);not null"`
	Description  string                     `json:"description"  gorm:"type:text;not null"`
	Requirements *string                    `json:"requirements" gorm:"type:text"`
	Tags         datatypes.JSONSlice[string] `json:"tags"`
	UserID       string                     `json:"user_id"      gorm:"type:varchar(64);not null;index:idx_problems_user"`
	ContactInfo  *ContactInfo               `json:"contact_info" gorm:"serializer:json"`
}

// TableName returns the database table name for Problem.
func (Problem) TableName() string { return "problems" }

// OwnedBy reports whether userID owns the problem.
func (p Problem) OwnedBy(userID string) bool {
	return userID != "" && p.UserID == userID
}

// HasTag reports whether tag is attached to the problem (exact match).
func (p Problem) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can hand problems out without
// sharing slices or pointers.
func (p Problem) Clone() Problem {
	out := p
	if p.Requirements != nil {
		r := *p.Requirements
		out.Requirements = &r
	}
	if p.Tags != nil {
		out.Tags = append(datatypes.JSONSlice[string]{}, p.Tags...)
	}
	if p.ContactInfo != nil {
		ci := *p.ContactInfo
		out.ContactInfo = &ci
	}
	return out
}

// CleanTags trims every tag, drops blanks and duplicates, and keeps the
// first-seen order. The result is never nil.
func CleanTags(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, t := range in {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
