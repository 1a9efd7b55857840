package handlers

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/hugh/go-clinic/internal/api/middleware"
	"github.com/hugh/go-clinic/internal/apperr"
	"github.com/hugh/go-clinic/internal/database/models"
	"github.com/hugh/go-clinic/internal/integrations"
	"github.com/hugh/go-clinic/internal/repository"
	"github.com/hugh/go-clinic/pkg/metrics"
)

const (
	maxAudioBytes = 25 << 20
	maxImageBytes = 10 << 20
)

type AIHandler struct {
	ai      integrations.AI
	records *repository.EHRRepository
	addOns  *repository.AddOnRepository
	metrics *metrics.Metrics
}

func NewAIHandler(ai integrations.AI, records *repository.EHRRepository, addOns *repository.AddOnRepository, m *metrics.Metrics) *AIHandler {
	return &AIHandler{ai: ai, records: records, addOns: addOns, metrics: m}
}

// Transcribe handles POST /api/v1/ai/ehr/{id}/transcribe with a multipart
// "audio" file.
func (h *AIHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, repository.FieldTranscribedNotes, func(ctx context.Context, _ *models.EHRRecord) (string, error) {
		data, name, err := readUpload(w, r, "audio", maxAudioBytes)
		if err != nil {
			return "", err
		}
		return h.ai.Transcribe(ctx, data, name)
	})
}

// OCR handles POST /api/v1/ai/ehr/{id}/ocr with a multipart "image" file.
func (h *AIHandler) OCR(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, repository.FieldOCRNotes, func(ctx context.Context, _ *models.EHRRecord) (string, error) {
		data, name, err := readUpload(w, r, "image", maxImageBytes)
		if err != nil {
			return "", err
		}
		return h.ai.ExtractText(ctx, data, name)
	})
}

// Summarize handles POST /api/v1/ai/ehr/{id}/summarize over the record's own
// notes.
func (h *AIHandler) Summarize(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, repository.FieldAISummary, func(ctx context.Context, rec *models.EHRRecord) (string, error) {
		return h.ai.Summarize(ctx, clinicalText(rec))
	})
}

// run gates on AI_SCRIBE, checks the record is visible, produces the text,
// stores it and only then counts the use.
func (h *AIHandler) run(w http.ResponseWriter, r *http.Request, field repository.AIField, produce func(context.Context, *models.EHRRecord) (string, error)) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	caller := middleware.CallerFrom(ctx)

	if err := h.addOns.EnsureActive(ctx, caller.OrganizationID, models.AddOnAIScribe); err != nil {
		writeError(w, r, err)
		return
	}

	record, err := h.records.Get(ctx, caller, id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	text, err := produce(ctx, record)
	if err != nil {
		writeError(w, r, err)
		return
	}

	record, err = h.records.SetAIField(ctx, caller, id, field, text)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.addOns.IncrementUsage(ctx, caller.OrganizationID, models.AddOnAIScribe); err != nil {
		writeError(w, r, err)
		return
	}
	h.metrics.AddOnUsed(models.AddOnAIScribe)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ehr_record": record,
		"result":     text,
	})
}

func readUpload(w http.ResponseWriter, r *http.Request, field string, limit int64) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit+(1<<20))
	if err := r.ParseMultipartForm(limit); err != nil {
		return nil, "", apperr.Validation("Validation failed", map[string]string{field: "Upload a file as multipart form data"})
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, "", apperr.Validation("Validation failed", map[string]string{field: "File is required"})
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, "", apperr.Internal(err)
	}
	if int64(len(data)) > limit {
		return nil, "", apperr.Validation("Validation failed", map[string]string{field: "File is too large"})
	}
	if len(data) == 0 {
		return nil, "", apperr.Validation("Validation failed", map[string]string{field: "File is empty"})
	}
	return data, header.Filename, nil
}

func clinicalText(rec *models.EHRRecord) string {
	var parts []string
	for _, s := range []string{
		rec.ChiefComplaint, rec.Symptoms, rec.Diagnosis, rec.Treatment,
		rec.Prescription, rec.Notes, rec.TranscribedNotes, rec.OCRNotes,
	} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}
