package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/hugh/go-clinic/internal/apperr"
	"github.com/hugh/go-clinic/internal/backup"
	"github.com/hugh/go-clinic/internal/database/models"
	"github.com/hugh/go-clinic/internal/notify"
	"github.com/hugh/go-clinic/internal/repository"
	"gorm.io/gorm"
)

type Handler struct {
	db         *gorm.DB
	logger     *slog.Logger
	backups    *backup.Service
	mailer     notify.Mailer
	backupType models.BackupType
}

// NewHandler wires the worker's task handlers. mailer performs the actual
// delivery; scheduled backups are written with backupType.
func NewHandler(db *gorm.DB, logger *slog.Logger, backups *backup.Service, mailer notify.Mailer, backupType models.BackupType) *Handler {
	if backupType == "" {
		backupType = models.BackupLocal
	}
	return &Handler{
		db:         db,
		logger:     logger,
		backups:    backups,
		mailer:     mailer,
		backupType: backupType,
	}
}

func (h *Handler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeEmailSend, h.HandleEmailSend)
	mux.HandleFunc(TypeBackupCreate, h.HandleBackupCreate)
	mux.HandleFunc(TypeBackupSchedulerTick, h.HandleBackupSchedulerTick)
}

func (h *Handler) HandleEmailSend(ctx context.Context, t *asynq.Task) error {
	var payload EmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}
	if payload.Message.To == "" {
		return fmt.Errorf("email has no recipient: %w", asynq.SkipRetry)
	}

	if err := h.mailer.Send(ctx, payload.Message); err != nil {
		h.logger.Error("email delivery failed", "to", payload.Message.To, "error", err)
		return err
	}
	return nil
}

func (h *Handler) HandleBackupCreate(ctx context.Context, t *asynq.Task) error {
	var payload BackupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}

	h.logger.Info("starting backup",
		"backup_id", payload.BackupID,
		"org_id", payload.OrganizationID,
	)

	err := h.backups.RunByID(ctx, payload.OrganizationID, payload.BackupID)
	if errors.Is(err, apperr.ErrNotFound) {
		h.logger.Warn("backup record is gone, dropping task", "backup_id", payload.BackupID)
		return fmt.Errorf("backup %s: %w", payload.BackupID, asynq.SkipRetry)
	}
	return err
}

// HandleBackupSchedulerTick backs up every organization. One failing
// organization does not stop the sweep.
func (h *Handler) HandleBackupSchedulerTick(ctx context.Context, t *asynq.Task) error {
	orgIDs, err := repository.NewBackupRepository(h.db).OrganizationIDs(ctx)
	if err != nil {
		return err
	}

	h.logger.Info("scheduled backup sweep", "organizations", len(orgIDs), "type", h.backupType)

	var failed int
	for _, orgID := range orgIDs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := h.backups.CreateScheduled(ctx, orgID, h.backupType); err != nil {
			failed++
			h.logger.Error("scheduled backup failed", "org_id", orgID, "error", err)
		}
	}

	h.logger.Info("completed scheduled backup sweep",
		"organizations", len(orgIDs),
		"failed", failed,
	)
	return nil
}
