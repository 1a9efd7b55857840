// Package repository implements tenant-scoped data access. Every query on a
// tenant-owned entity is built through tenant.ScopeFor, and ids outside the
// caller's scope behave exactly like missing ids.
package repository

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-clinic/internal/apperr"
	"github.com/hugh/go-clinic/internal/database/models"
	"github.com/hugh/go-clinic/internal/tenant"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Pagination is a 1-based page request.
type Pagination struct {
	Page  int
	Limit int
}

func (p *Pagination) Normalize() {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = defaultLimit
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
}

func (p Pagination) Offset() int {
	return (p.Page - 1) * p.Limit
}

func (p Pagination) TotalPages(total int64) int {
	if p.Limit <= 0 || total == 0 {
		return 0
	}
	return int((total + int64(p.Limit) - 1) / int64(p.Limit))
}

func (p Pagination) apply(db *gorm.DB) *gorm.DB {
	return db.Offset(p.Offset()).Limit(p.Limit)
}

// BulkResult summarises a batch where every item is processed on its own.
type BulkResult struct {
	Created    int         `json:"created"`
	Failed     int         `json:"failed"`
	Duplicates int         `json:"duplicates"`
	Errors     []BulkError `json:"errors"`
}

type BulkError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

func (r *BulkResult) record(index int, err error) {
	if err == nil {
		r.Created++
		return
	}
	if errors.Is(err, apperr.ErrDuplicatePatient) {
		r.Duplicates++
	} else {
		r.Failed++
	}
	r.Errors = append(r.Errors, BulkError{Index: index, Error: apperr.As(err).Message})
}

func scoped(db *gorm.DB, caller tenant.Caller, kind tenant.Kind) *gorm.DB {
	return db.Scopes(tenant.ScopeFor(caller, kind).Apply)
}

// dbErr maps a gorm error to the shared taxonomy.
func dbErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.ErrNotFound
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Internal(err)
}

// lockOrganization takes a row lock on the organization for the rest of tx.
// Writes that enforce organization-wide invariants (unique patient phone,
// last admin) serialize on it. SQLite ignores the locking clause.
func lockOrganization(tx *gorm.DB, orgID uuid.UUID) error {
	var org models.Organization
	return tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		First(&org, "id = ?", orgID).Error
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
