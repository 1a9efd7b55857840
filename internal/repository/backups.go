package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-clinic/internal/database/models"
	"github.com/hugh/go-clinic/internal/tenant"
	"gorm.io/gorm"
)

type BackupRepository struct {
	db *gorm.DB
}

func NewBackupRepository(db *gorm.DB) *BackupRepository {
	return &BackupRepository{db: db}
}

func (r *BackupRepository) List(ctx context.Context, caller tenant.Caller, page Pagination) ([]models.Backup, int64, error) {
	page.Normalize()
	q := scoped(r.db.WithContext(ctx).Model(&models.Backup{}), caller, tenant.KindBackup)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, dbErr(err)
	}

	var backups []models.Backup
	if err := page.apply(q).Order("backups.created_at DESC").Find(&backups).Error; err != nil {
		return nil, 0, dbErr(err)
	}
	return backups, total, nil
}

// Get looks a backup up under pred, which is either the caller's scope or an
// organization-wide scope for background jobs.
func (r *BackupRepository) Get(ctx context.Context, pred tenant.Predicate, id uuid.UUID) (*models.Backup, error) {
	var backup models.Backup
	err := r.db.WithContext(ctx).Scopes(pred.Apply).First(&backup, "backups.id = ?", id).Error
	if err != nil {
		return nil, dbErr(err)
	}
	return &backup, nil
}

func (r *BackupRepository) Create(ctx context.Context, backup *models.Backup) error {
	if backup.Status == "" {
		backup.Status = models.BackupPending
	}
	return dbErr(r.db.WithContext(ctx).Create(backup).Error)
}

func (r *BackupRepository) MarkCompleted(ctx context.Context, backup *models.Backup) error {
	backup.Status = models.BackupCompleted
	return dbErr(r.db.WithContext(ctx).Model(backup).Updates(map[string]interface{}{
		"status":      backup.Status,
		"storage_key": backup.StorageKey,
		"size_bytes":  backup.SizeBytes,
		"checksum":    backup.Checksum,
		"encrypted":   backup.Encrypted,
		"error":       "",
	}).Error)
}

func (r *BackupRepository) MarkFailed(ctx context.Context, backup *models.Backup, cause error) error {
	backup.Status = models.BackupFailed
	backup.Error = cause.Error()
	return dbErr(r.db.WithContext(ctx).Model(backup).Updates(map[string]interface{}{
		"status": backup.Status,
		"error":  backup.Error,
	}).Error)
}

// LastManualAt returns when the organization last triggered a manual backup,
// or the zero time if it never has.
func (r *BackupRepository) LastManualAt(ctx context.Context, orgID uuid.UUID) (time.Time, error) {
	var backup models.Backup
	err := r.db.WithContext(ctx).
		Where(&models.Backup{OrganizationID: orgID, Trigger: models.TriggerManual}).
		Order("created_at DESC").
		Limit(1).
		Find(&backup).Error
	if err != nil {
		return time.Time{}, dbErr(err)
	}
	return backup.CreatedAt, nil
}

// OrganizationIDs lists every organization, for the scheduled backup sweep.
func (r *BackupRepository) OrganizationIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&models.Organization{}).Pluck("id", &ids).Error
	return ids, dbErr(err)
}
