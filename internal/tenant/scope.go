package tenant

import (
	"github.com/google/uuid"
	"github.com/hugh/go-clinic/internal/database/models"
	"gorm.io/gorm"
)

type Kind string

const (
	KindOrganization      Kind = "organization"
	KindUser              Kind = "user"
	KindInvite            Kind = "invite"
	KindClinic            Kind = "clinic"
	KindPatient           Kind = "patient"
	KindAppointment       Kind = "appointment"
	KindEHRRecord         Kind = "ehr_record"
	KindOrganizationAddOn Kind = "organization_add_on"
	KindSubscription      Kind = "subscription"
	KindBackup            Kind = "backup"
)

// Predicate restricts a query on one entity kind to a single tenant and,
// for doctors, to their own clinical records.
type Predicate struct {
	Kind           Kind
	OrganizationID uuid.UUID
	DoctorID       *uuid.UUID
}

// ScopeFor derives the predicate for caller on kind. Every repository query
// goes through it.
func ScopeFor(c Caller, kind Kind) Predicate {
	p := Predicate{Kind: kind, OrganizationID: c.OrganizationID}
	if c.IsDoctor() && (kind == KindAppointment || kind == KindEHRRecord) {
		id := c.UserID
		p.DoctorID = &id
	}
	return p
}

// ForOrganization builds an unrestricted organization-wide predicate, used by
// background jobs that act on behalf of the organization itself.
func ForOrganization(orgID uuid.UUID, kind Kind) Predicate {
	return Predicate{Kind: kind, OrganizationID: orgID}
}

// Apply is a gorm scope: db.Scopes(pred.Apply).
func (p Predicate) Apply(db *gorm.DB) *gorm.DB {
	if p.OrganizationID == uuid.Nil {
		return db.Where("1 = 0")
	}

	switch p.Kind {
	case KindOrganization:
		return db.Where("organizations.id = ?", p.OrganizationID)
	case KindUser:
		return db.Where("users.organization_id = ?", p.OrganizationID)
	case KindInvite:
		return db.Where("invites.organization_id = ?", p.OrganizationID)
	case KindClinic:
		return db.Where("clinics.organization_id = ?", p.OrganizationID)
	case KindOrganizationAddOn:
		return db.Where("organization_add_ons.organization_id = ?", p.OrganizationID)
	case KindSubscription:
		return db.Where("subscriptions.organization_id = ?", p.OrganizationID)
	case KindBackup:
		return db.Where("backups.organization_id = ?", p.OrganizationID)
	case KindPatient:
		return db.Where("patients.clinic_id IN (?)", clinicIDs(db, p.OrganizationID))
	case KindAppointment:
		db = db.Where("appointments.clinic_id IN (?)", clinicIDs(db, p.OrganizationID))
		if p.DoctorID != nil {
			db = db.Where("appointments.doctor_id = ?", *p.DoctorID)
		}
		return db
	case KindEHRRecord:
		db = db.Where("ehr_records.patient_id IN (?)", patientIDs(db, p.OrganizationID))
		if p.DoctorID != nil {
			db = db.Where("ehr_records.doctor_id = ?", *p.DoctorID)
		}
		return db
	}

	// Unknown kinds see nothing.
	return db.Where("1 = 0")
}

func clinicIDs(db *gorm.DB, orgID uuid.UUID) *gorm.DB {
	return subquery(db).
		Model(&models.Clinic{}).
		Select("id").
		Where("organization_id = ?", orgID)
}

func patientIDs(db *gorm.DB, orgID uuid.UUID) *gorm.DB {
	return subquery(db).
		Model(&models.Patient{}).
		Select("id").
		Where("clinic_id IN (?)", clinicIDs(db, orgID))
}

// subquery starts a fresh statement that still sees soft-deleted rows when
// the outer one does.
func subquery(db *gorm.DB) *gorm.DB {
	sub := db.Session(&gorm.Session{NewDB: true})
	if db.Statement.Unscoped {
		sub = sub.Unscoped()
	}
	return sub
}
