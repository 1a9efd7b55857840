package backup

import (
	"encoding/json"
	"time"

	"github.com/hugh/go-clinic/internal/apperr"
	"github.com/hugh/go-clinic/internal/database/models"
)

// DocumentVersion is bumped whenever the snapshot layout changes.
const DocumentVersion = 1

// Document is the serialized form of one organization. Secrets (password
// hashes, invite tokens) never reach it because the models do not marshal them.
type Document struct {
	Version       int                        `json:"version"`
	CreatedAt     time.Time                  `json:"created_at"`
	Organization  *models.Organization       `json:"organization"`
	Members       []models.User              `json:"members"`
	Clinics       []models.Clinic            `json:"clinics"`
	Patients      []models.Patient           `json:"patients"`
	Appointments  []models.Appointment       `json:"appointments"`
	EHRRecords    []models.EHRRecord         `json:"ehr_records"`
	AddOns        []models.OrganizationAddOn `json:"add_ons"`
	Subscriptions []models.Subscription      `json:"subscriptions"`
	Invites       []models.Invite            `json:"invites"`
}

var requiredSections = []string{"organization", "patients", "appointments"}

// ParseDocument checks the top-level shape before decoding. A document that
// lacks any required section is rejected with ErrInvalidBackup.
func ParseDocument(data []byte) (*Document, error) {
	var sections map[string]json.RawMessage
	if err := json.Unmarshal(data, &sections); err != nil {
		return nil, apperr.ErrInvalidBackup.WithMessage("Backup document is not valid JSON")
	}

	missing := map[string]string{}
	for _, key := range requiredSections {
		raw, ok := sections[key]
		if !ok || string(raw) == "null" {
			missing[key] = "is required"
		}
	}
	if len(missing) > 0 {
		return nil, apperr.ErrInvalidBackup.WithDetails(missing)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, apperr.ErrInvalidBackup.WithMessage("Backup document has malformed sections")
	}
	return &doc, nil
}
