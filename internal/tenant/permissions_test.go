package tenant

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/hugh/go-clinic/internal/database/models"
	"github.com/stretchr/testify/assert"
)

func TestCan(t *testing.T) {
	tests := []struct {
		role     models.Role
		action   Action
		resource Resource
		want     bool
	}{
		{models.RoleAdmin, ActionDelete, ResourceClinic, true},
		{models.RoleAdmin, ActionCreate, ResourceBackup, true},
		{models.RoleAdmin, ActionUse, ResourceAI, true},
		{models.RoleDoctor, ActionRead, ResourceClinic, true},
		{models.RoleDoctor, ActionCreate, ResourceClinic, false},
		{models.RoleDoctor, ActionUpdate, ResourceAppointment, true},
		{models.RoleDoctor, ActionDelete, ResourceAppointment, false},
		{models.RoleDoctor, ActionCreate, ResourceEHR, true},
		{models.RoleDoctor, ActionRead, ResourceBackup, false},
		{models.RoleStaff, ActionCreate, ResourceAppointment, true},
		{models.RoleStaff, ActionUpdate, ResourceAppointment, false},
		{models.RoleStaff, ActionCreate, ResourceEHR, false},
		{models.RoleStaff, ActionRead, ResourceAnalytics, false},
		{models.RoleStaff, ActionUse, ResourceAI, false},
		{models.RoleStaff, ActionCreate, ResourceInvite, false},
		{models.Role("OWNER"), ActionRead, ResourcePatient, false},
	}

	for _, tt := range tests {
		name := string(tt.role) + " " + string(tt.action) + " " + string(tt.resource)
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, Can(tt.role, tt.action, tt.resource))
		})
	}
}

func TestCaller_Context(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	clinic := uuid.New()
	c := Caller{UserID: uuid.New(), OrganizationID: uuid.New(), Role: models.RoleStaff, ClinicIDs: []uuid.UUID{clinic}}
	got, ok := FromContext(WithCaller(context.Background(), c))
	assert.True(t, ok)
	assert.Equal(t, c.UserID, got.UserID)
	assert.Equal(t, []uuid.UUID{clinic}, got.ClinicIDs)
	assert.True(t, got.HasOrganization())
	assert.False(t, got.IsAdmin())
}
