package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/hugh/go-clinic/internal/api/dto"
	"github.com/hugh/go-clinic/internal/api/middleware"
	"github.com/hugh/go-clinic/internal/apperr"
	"github.com/hugh/go-clinic/internal/backup"
	"github.com/hugh/go-clinic/internal/database/models"
)

const maxRestoreBytes = 64 << 20

// BackupEnqueuer hands a recorded backup to the worker.
type BackupEnqueuer interface {
	EnqueueBackup(ctx context.Context, orgID, backupID uuid.UUID) error
}

type BackupHandler struct {
	backups     *backup.Service
	queue       BackupEnqueuer
	defaultType models.BackupType
}

// NewBackupHandler builds the handler. A nil queue runs every backup inline.
func NewBackupHandler(backups *backup.Service, queue BackupEnqueuer, defaultType models.BackupType) *BackupHandler {
	if defaultType == "" {
		defaultType = models.BackupLocal
	}
	return &BackupHandler{backups: backups, queue: queue, defaultType: defaultType}
}

type CreateBackupRequest struct {
	Type models.BackupType `json:"type,omitempty"`
}

func (r CreateBackupRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if r.Type != "" && r.Type != models.BackupLocal && r.Type != models.BackupCloud {
		errors["type"] = "Type must be LOCAL or CLOUD"
	}
	return errors
}

// List handles GET /api/v1/backups
func (h *BackupHandler) List(w http.ResponseWriter, r *http.Request) {
	page := pagination(r)
	backups, total, err := h.backups.List(r.Context(), middleware.CallerFrom(r.Context()), page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.List("backups", backups, page, total))
}

// Create handles POST /api/v1/backups. CLOUD backups go to the worker when a
// queue is configured and answer 202; everything else runs inline.
func (h *BackupHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateBackupRequest
	if !bind(w, r, &req) {
		return
	}
	typ := req.Type
	if typ == "" {
		typ = h.defaultType
	}
	caller := middleware.CallerFrom(r.Context())

	if typ == models.BackupCloud && h.queue != nil {
		b, err := h.backups.Start(r.Context(), caller, typ)
		if err != nil {
			writeError(w, r, err)
			return
		}
		err = h.queue.EnqueueBackup(r.Context(), b.OrganizationID, b.ID)
		if err == nil {
			writeJSON(w, http.StatusAccepted, map[string]interface{}{"backup": b})
			return
		}
		slog.WarnContext(r.Context(), "enqueue failed, running backup inline", "backup_id", b.ID, "error", err)
		if err := h.backups.Run(r.Context(), b); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"backup": b})
		return
	}

	b, err := h.backups.Create(r.Context(), caller, typ)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"backup": b})
}

// Get handles GET /api/v1/backups/{id}
func (h *BackupHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	b, err := h.backups.Get(r.Context(), middleware.CallerFrom(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"backup": b})
}

// Download handles GET /api/v1/backups/{id}/download. The document is served
// decrypted.
func (h *BackupHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	b, data, err := h.backups.Download(r.Context(), middleware.CallerFrom(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="backup-%s.json"`, b.ID))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// RestoreFromBackup handles POST /api/v1/backups/{id}/restore
func (h *BackupHandler) RestoreFromBackup(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	result, err := h.backups.RestoreFromBackup(r.Context(), middleware.CallerFrom(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"restore": result})
}

// Restore handles POST /api/v1/backups/restore with the document either as a
// multipart "file" upload or as the raw request body.
func (h *BackupHandler) Restore(w http.ResponseWriter, r *http.Request) {
	data, err := readBackupUpload(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	result, err := h.backups.Restore(r.Context(), middleware.CallerFrom(r.Context()), data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"restore": result})
}

func readBackupUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRestoreBytes)

	var src io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxRestoreBytes); err != nil {
			return nil, apperr.Validation("Validation failed", map[string]string{"file": "Upload is too large or malformed"})
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, apperr.Validation("Validation failed", map[string]string{"file": "File is required"})
		}
		defer file.Close()
		src = file
	}

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, apperr.Validation("Validation failed", map[string]string{"file": "Upload is too large or malformed"})
	}
	if len(data) == 0 {
		return nil, apperr.Validation("Validation failed", map[string]string{"file": "Backup document is required"})
	}
	return data, nil
}
