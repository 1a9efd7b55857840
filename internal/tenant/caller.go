// Package tenant holds the request caller identity, the per-entity scope
// predicates that confine every query to the caller's organization, and the
// role permission table.
package tenant

import (
	"context"

	"github.com/google/uuid"
	"github.com/hugh/go-clinic/internal/database/models"
)

// Caller is the resolved identity attached once to each authenticated request.
type Caller struct {
	UserID         uuid.UUID
	OrganizationID uuid.UUID // uuid.Nil until the user creates or joins one
	Role           models.Role
	Email          string
	ClinicIDs      []uuid.UUID
}

func (c Caller) HasOrganization() bool {
	return c.OrganizationID != uuid.Nil
}

func (c Caller) IsAdmin() bool {
	return c.Role == models.RoleAdmin
}

func (c Caller) IsDoctor() bool {
	return c.Role == models.RoleDoctor
}

type callerKey struct{}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// FromContext returns the caller stored by the auth middleware.
func FromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}
