// Package backup produces full-tenant snapshots, stores them in a blob store
// and restores an organization from one.
package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-clinic/internal/apperr"
	"github.com/hugh/go-clinic/internal/database/models"
	"github.com/hugh/go-clinic/internal/repository"
	"github.com/hugh/go-clinic/internal/tenant"
	"github.com/hugh/go-clinic/pkg/crypto"
	"github.com/hugh/go-clinic/pkg/metrics"
	"gorm.io/gorm"
)

var errStorageNotConfigured = apperr.Validation("Cloud storage is not configured", nil)

type Options struct {
	Stores      map[models.BackupType]BlobStore
	Encryptor   *crypto.Encryptor // nil stores plaintext JSON
	Cooldown    Cooldown          // nil falls back to the backups table
	CooldownTTL time.Duration
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

type Service struct {
	db          *gorm.DB
	backups     *repository.BackupRepository
	stores      map[models.BackupType]BlobStore
	enc         *crypto.Encryptor
	cooldown    Cooldown
	cooldownTTL time.Duration
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

func NewService(db *gorm.DB, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:          db,
		backups:     repository.NewBackupRepository(db),
		stores:      opts.Stores,
		enc:         opts.Encryptor,
		cooldown:    opts.Cooldown,
		cooldownTTL: opts.CooldownTTL,
		metrics:     opts.Metrics,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// RestoreResult counts what a restore wrote. Rows referencing entities that
// are not part of the document, or doctors outside the organization, are
// skipped.
type RestoreResult struct {
	PreRestoreBackupID uuid.UUID `json:"pre_restore_backup_id"`
	Clinics            int       `json:"clinics"`
	Patients           int       `json:"patients"`
	Appointments       int       `json:"appointments"`
	EHRRecords         int       `json:"ehr_records"`
	Skipped            int       `json:"skipped"`
}

func (s *Service) List(ctx context.Context, caller tenant.Caller, page repository.Pagination) ([]models.Backup, int64, error) {
	return s.backups.List(ctx, caller, page)
}

func (s *Service) Get(ctx context.Context, caller tenant.Caller, id uuid.UUID) (*models.Backup, error) {
	return s.backups.Get(ctx, tenant.ScopeFor(caller, tenant.KindBackup), id)
}

// Snapshot collects everything the organization owns into one document. It
// reads without a transaction, so concurrent writes may or may not show up.
func (s *Service) Snapshot(ctx context.Context, orgID uuid.UUID) (*Document, error) {
	db := s.db.WithContext(ctx)
	pred := func(kind tenant.Kind) func(*gorm.DB) *gorm.DB {
		return tenant.ForOrganization(orgID, kind).Apply
	}

	doc := &Document{Version: DocumentVersion, CreatedAt: s.now()}

	var org models.Organization
	if err := db.Scopes(pred(tenant.KindOrganization)).First(&org).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound.WithMessage("Organization not found")
		}
		return nil, apperr.Internal(err)
	}
	doc.Organization = &org

	queries := []struct {
		kind tenant.Kind
		dest interface{}
	}{
		{tenant.KindUser, &doc.Members},
		{tenant.KindClinic, &doc.Clinics},
		{tenant.KindPatient, &doc.Patients},
		{tenant.KindAppointment, &doc.Appointments},
		{tenant.KindEHRRecord, &doc.EHRRecords},
		{tenant.KindSubscription, &doc.Subscriptions},
		{tenant.KindInvite, &doc.Invites},
	}
	for _, q := range queries {
		if err := db.Scopes(pred(q.kind)).Order("created_at ASC").Find(q.dest).Error; err != nil {
			return nil, apperr.Internal(fmt.Errorf("snapshot %s: %w", q.kind, err))
		}
	}

	if err := db.Scopes(pred(tenant.KindOrganizationAddOn)).Preload("AddOn").Find(&doc.AddOns).Error; err != nil {
		return nil, apperr.Internal(fmt.Errorf("snapshot add-ons: %w", err))
	}

	return doc, nil
}

// Start records a PENDING manual backup after checking the cooldown. The
// caller runs it inline with Run or hands its id to the worker.
func (s *Service) Start(ctx context.Context, caller tenant.Caller, typ models.BackupType) (*models.Backup, error) {
	if err := s.checkStore(typ); err != nil {
		return nil, err
	}
	claimed, err := s.checkCooldown(ctx, caller.OrganizationID)
	if err != nil {
		return nil, err
	}
	createdBy := caller.UserID
	b, err := s.record(ctx, caller.OrganizationID, typ, models.TriggerManual, &createdBy)
	if err != nil {
		if claimed {
			// Nothing was recorded, so the window must not block a retry.
			if relErr := s.cooldown.Release(context.WithoutCancel(ctx), caller.OrganizationID); relErr != nil {
				s.logger.Warn("failed to release backup cooldown", "org_id", caller.OrganizationID, "error", relErr)
			}
		}
		return nil, err
	}
	return b, nil
}

// Create starts and runs a manual backup in one call.
func (s *Service) Create(ctx context.Context, caller tenant.Caller, typ models.BackupType) (*models.Backup, error) {
	b, err := s.Start(ctx, caller, typ)
	if err != nil {
		return nil, err
	}
	if err := s.Run(ctx, b); err != nil {
		return b, err
	}
	return b, nil
}

// CreateScheduled runs an unattended backup for orgID. It skips the cooldown.
func (s *Service) CreateScheduled(ctx context.Context, orgID uuid.UUID, typ models.BackupType) (*models.Backup, error) {
	if err := s.checkStore(typ); err != nil {
		return nil, err
	}
	b, err := s.record(ctx, orgID, typ, models.TriggerScheduled, nil)
	if err != nil {
		return nil, err
	}
	return b, s.Run(ctx, b)
}

// RunByID completes a queued backup. Completed backups are left alone so a
// redelivered task is harmless.
func (s *Service) RunByID(ctx context.Context, orgID, backupID uuid.UUID) error {
	b, err := s.backups.Get(ctx, tenant.ForOrganization(orgID, tenant.KindBackup), backupID)
	if err != nil {
		return err
	}
	if b.Status == models.BackupCompleted {
		return nil
	}
	return s.Run(ctx, b)
}

// Run snapshots the organization, seals the document and uploads it. The
// record ends up COMPLETED or FAILED either way.
func (s *Service) Run(ctx context.Context, b *models.Backup) error {
	err := s.run(ctx, b)
	status := models.BackupCompleted
	if err != nil {
		status = models.BackupFailed
		s.logger.Error("backup failed",
			"backup_id", b.ID,
			"organization_id", b.OrganizationID,
			"error", err,
		)
		if markErr := s.backups.MarkFailed(ctx, b, err); markErr != nil {
			s.logger.Error("failed to mark backup failed", "backup_id", b.ID, "error", markErr)
		}
	} else {
		s.logger.Info("backup completed",
			"backup_id", b.ID,
			"organization_id", b.OrganizationID,
			"type", b.Type,
			"size_bytes", b.SizeBytes,
		)
	}
	s.metrics.BackupFinished(string(b.Type), string(b.Trigger), string(status))
	return err
}

func (s *Service) run(ctx context.Context, b *models.Backup) error {
	store, ok := s.stores[b.Type]
	if !ok || store == nil {
		return errStorageNotConfigured
	}

	doc, err := s.Snapshot(ctx, b.OrganizationID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	key := fmt.Sprintf("%s/%s.json", b.OrganizationID, b.ID)
	if s.enc != nil {
		if data, err = s.enc.Encrypt(data); err != nil {
			return fmt.Errorf("encrypting snapshot: %w", err)
		}
		key += ".age"
		b.Encrypted = true
	}

	if err := store.Put(ctx, key, data); err != nil {
		return err
	}

	sum := sha256.Sum256(data)
	b.StorageKey = key
	b.SizeBytes = int64(len(data))
	b.Checksum = hex.EncodeToString(sum[:])
	return s.backups.MarkCompleted(ctx, b)
}

// Download returns the backup record and its plaintext document.
func (s *Service) Download(ctx context.Context, caller tenant.Caller, id uuid.UUID) (*models.Backup, []byte, error) {
	b, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.load(ctx, b)
	if err != nil {
		return nil, nil, err
	}
	return b, data, nil
}

func (s *Service) load(ctx context.Context, b *models.Backup) ([]byte, error) {
	if b.Status != models.BackupCompleted {
		return nil, apperr.ErrInvalidBackup.WithMessage("Backup is not completed")
	}
	store, ok := s.stores[b.Type]
	if !ok || store == nil {
		return nil, errStorageNotConfigured
	}

	data, err := store.Get(ctx, b.StorageKey)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	sum := sha256.Sum256(data)
	if b.Checksum != "" && hex.EncodeToString(sum[:]) != b.Checksum {
		return nil, apperr.ErrInvalidBackup.WithMessage("Backup checksum does not match")
	}
	return s.open(data)
}

// open decrypts age payloads and passes plaintext through.
func (s *Service) open(data []byte) ([]byte, error) {
	if !crypto.IsEncrypted(data) {
		return data, nil
	}
	if s.enc == nil {
		return nil, apperr.Internal(errors.New("backup is encrypted but no encryption key is configured"))
	}
	plain, err := s.enc.Decrypt(data)
	if err != nil {
		return nil, apperr.ErrInvalidBackup.WithMessage("Backup could not be decrypted")
	}
	return plain, nil
}

// RestoreFromBackup restores the caller's organization from one of its own
// completed backups.
func (s *Service) RestoreFromBackup(ctx context.Context, caller tenant.Caller, id uuid.UUID) (*RestoreResult, error) {
	b, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	data, err := s.load(ctx, b)
	if err != nil {
		return nil, err
	}
	return s.Restore(ctx, caller, data)
}

// Restore replaces the organization's clinics, patients, appointments and
// EHR records with the document's. A PRE_RESTORE backup of the current state
// is written before anything else and survives a failed restore.
func (s *Service) Restore(ctx context.Context, caller tenant.Caller, data []byte) (*RestoreResult, error) {
	orgID := caller.OrganizationID
	createdBy := caller.UserID

	pre, err := s.record(ctx, orgID, models.BackupLocal, models.TriggerPreRestore, &createdBy)
	if err != nil {
		return nil, err
	}
	if err := s.Run(ctx, pre); err != nil {
		return nil, err
	}

	plain, err := s.open(data)
	if err != nil {
		return nil, err
	}
	doc, err := ParseDocument(plain)
	if err != nil {
		return nil, err
	}

	result := &RestoreResult{PreRestoreBackupID: pre.ID}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.apply(tx, orgID, doc, result)
	})
	if err != nil {
		s.logger.Error("restore failed",
			"organization_id", orgID,
			"pre_restore_backup_id", pre.ID,
			"error", err,
		)
		return nil, apperr.As(err)
	}

	s.logger.Info("restore completed",
		"organization_id", orgID,
		"pre_restore_backup_id", pre.ID,
		"patients", result.Patients,
		"appointments", result.Appointments,
		"skipped", result.Skipped,
	)
	return result, nil
}

func (s *Service) apply(tx *gorm.DB, orgID uuid.UUID, doc *Document, result *RestoreResult) error {
	var doctors []uuid.UUID
	if err := tx.Model(&models.User{}).
		Where("organization_id = ? AND role = ?", orgID, models.RoleDoctor).
		Pluck("id", &doctors).Error; err != nil {
		return err
	}
	isDoctor := make(map[uuid.UUID]bool, len(doctors))
	for _, id := range doctors {
		isDoctor[id] = true
	}

	// Children first: the scope subqueries read the parent tables.
	for _, m := range []struct {
		kind  tenant.Kind
		model interface{}
	}{
		{tenant.KindEHRRecord, &models.EHRRecord{}},
		{tenant.KindAppointment, &models.Appointment{}},
		{tenant.KindPatient, &models.Patient{}},
		{tenant.KindClinic, &models.Clinic{}},
	} {
		if err := tx.Unscoped().Scopes(tenant.ForOrganization(orgID, m.kind).Apply).Delete(m.model).Error; err != nil {
			return fmt.Errorf("clearing %s: %w", m.kind, err)
		}
	}

	// Ids are kept when restoring into the organization the snapshot came
	// from and regenerated otherwise, so the source tenant's rows never clash.
	sameOrg := doc.Organization.ID == orgID
	ids := map[uuid.UUID]uuid.UUID{}
	remap := func(id uuid.UUID) uuid.UUID {
		if sameOrg {
			return id
		}
		if mapped, ok := ids[id]; ok {
			return mapped
		}
		mapped := uuid.New()
		ids[id] = mapped
		return mapped
	}

	clinics := map[uuid.UUID]bool{}
	for _, c := range doc.Clinics {
		c.ID = remap(c.ID)
		c.OrganizationID = orgID
		c.Organization = nil
		if err := tx.Create(&c).Error; err != nil {
			return fmt.Errorf("restoring clinic: %w", err)
		}
		clinics[c.ID] = true
		result.Clinics++
	}

	patientClinic := map[uuid.UUID]uuid.UUID{}
	phones := map[string]bool{}
	for _, p := range doc.Patients {
		p.ID = remap(p.ID)
		p.ClinicID = remap(p.ClinicID)
		p.Clinic = nil
		if !clinics[p.ClinicID] || phones[p.Phone] {
			result.Skipped++
			continue
		}
		if err := tx.Create(&p).Error; err != nil {
			return fmt.Errorf("restoring patient: %w", err)
		}
		phones[p.Phone] = true
		patientClinic[p.ID] = p.ClinicID
		result.Patients++
	}

	appointments := map[uuid.UUID]bool{}
	for _, a := range doc.Appointments {
		a.ID = remap(a.ID)
		a.PatientID = remap(a.PatientID)
		clinicID, ok := patientClinic[a.PatientID]
		if !ok || !isDoctor[a.DoctorID] {
			result.Skipped++
			continue
		}
		a.ClinicID = clinicID
		a.Patient, a.Doctor, a.Clinic = nil, nil, nil
		if err := tx.Create(&a).Error; err != nil {
			return fmt.Errorf("restoring appointment: %w", err)
		}
		appointments[a.ID] = true
		result.Appointments++
	}

	for _, r := range doc.EHRRecords {
		r.ID = remap(r.ID)
		r.PatientID = remap(r.PatientID)
		if _, ok := patientClinic[r.PatientID]; !ok || !isDoctor[r.DoctorID] {
			result.Skipped++
			continue
		}
		if r.AppointmentID != nil {
			id := remap(*r.AppointmentID)
			if appointments[id] {
				r.AppointmentID = &id
			} else {
				r.AppointmentID = nil
			}
		}
		r.Patient, r.Doctor = nil, nil
		if err := tx.Create(&r).Error; err != nil {
			return fmt.Errorf("restoring ehr record: %w", err)
		}
		result.EHRRecords++
	}

	src := doc.Organization
	return tx.Model(&models.Organization{}).Where("id = ?", orgID).Updates(map[string]interface{}{
		"name":    src.Name,
		"address": src.Address,
		"phone":   src.Phone,
		"email":   src.Email,
		"website": src.Website,
	}).Error
}

func (s *Service) record(ctx context.Context, orgID uuid.UUID, typ models.BackupType, trigger models.BackupTrigger, createdBy *uuid.UUID) (*models.Backup, error) {
	b := &models.Backup{
		OrganizationID: orgID,
		Type:           typ,
		Trigger:        trigger,
		CreatedBy:      createdBy,
	}
	if err := s.backups.Create(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) checkStore(typ models.BackupType) error {
	if typ != models.BackupLocal && typ != models.BackupCloud {
		return apperr.Validation("Invalid backup type", map[string]string{"type": "must be LOCAL or CLOUD"})
	}
	if s.stores[typ] == nil {
		return errStorageNotConfigured
	}
	return nil
}

// checkCooldown reports whether the window was claimed in the cooldown store.
// The database fallback claims nothing, since the recorded backup row is
// itself the marker.
func (s *Service) checkCooldown(ctx context.Context, orgID uuid.UUID) (bool, error) {
	if s.cooldownTTL <= 0 {
		return false, nil
	}

	if s.cooldown != nil {
		ok, err := s.cooldown.Acquire(ctx, orgID)
		if err == nil {
			if !ok {
				return false, apperr.ErrRateLimited
			}
			return true, nil
		}
		s.logger.Warn("backup cooldown store unavailable, using database", "error", err)
	}

	last, err := s.backups.LastManualAt(ctx, orgID)
	if err != nil {
		return false, err
	}
	if !last.IsZero() && s.now().Sub(last) < s.cooldownTTL {
		return false, apperr.ErrRateLimited
	}
	return false, nil
}
