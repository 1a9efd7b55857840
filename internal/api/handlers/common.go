package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hugh/go-clinic/internal/api/dto"
	"github.com/hugh/go-clinic/internal/apperr"
	"github.com/hugh/go-clinic/internal/repository"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps err to its HTTP status. Internal causes are logged and
// replaced by a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := apperr.As(err)
	if e.Kind == apperr.KindInternal {
		slog.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeJSON(w, e.Kind.Status(), dto.NewErrorResponse(e))
}

// decodeJSON reads a JSON body into v. It writes the 400 itself and reports
// whether the handler should continue.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body", Code: "INVALID_BODY"})
		return false
	}
	return true
}

type validator interface {
	Validate() map[string]string
}

// bind decodes and validates a request body.
func bind(w http.ResponseWriter, r *http.Request, req validator) bool {
	if !decodeJSON(w, r, req) {
		return false
	}
	if errs := req.Validate(); len(errs) > 0 {
		writeError(w, r, apperr.Validation("Validation failed", errs))
		return false
	}
	return true
}

func parseID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid ID format", Code: "INVALID_ID"})
		return uuid.Nil, false
	}
	return id, true
}

func pagination(r *http.Request) repository.Pagination {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	p := repository.Pagination{Page: page, Limit: limit}
	p.Normalize()
	return p
}

// queryUUID parses an optional uuid query parameter into errs when invalid.
func queryUUID(r *http.Request, name string, errs map[string]string) *uuid.UUID {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		errs[name] = "Invalid ID format"
		return nil
	}
	return &id
}

func parseUUIDField(raw, field string, errs map[string]string) uuid.UUID {
	if raw == "" {
		errs[field] = "Required"
		return uuid.Nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		errs[field] = "Invalid ID format"
		return uuid.Nil
	}
	return id
}

func optionalUUID(raw *string, field string, errs map[string]string) *uuid.UUID {
	if raw == nil || *raw == "" {
		return nil
	}
	id, err := uuid.Parse(*raw)
	if err != nil {
		errs[field] = "Invalid ID format"
		return nil
	}
	return &id
}

const maxBulkItems = 500

// rejectedItem is a bulk row that failed request validation and never
// reached the repository.
type rejectedItem struct {
	index int
	msg   string
}

// mergeBulk folds request-level rejections into a repository result. kept
// maps the repository's item index back to the index in the request.
func mergeBulk(res repository.BulkResult, kept []int, rejected []rejectedItem) repository.BulkResult {
	for i := range res.Errors {
		res.Errors[i].Index = kept[res.Errors[i].Index]
	}
	for _, rj := range rejected {
		res.Failed++
		res.Errors = append(res.Errors, repository.BulkError{Index: rj.index, Error: rj.msg})
	}
	sort.Slice(res.Errors, func(i, j int) bool { return res.Errors[i].Index < res.Errors[j].Index })
	return res
}

// firstProblem flattens validation details into one message for a bulk row.
func firstProblem(errs map[string]string) string {
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys[0] + ": " + errs[keys[0]]
}

func bulkSizeError(n int) map[string]string {
	if n == 0 {
		return map[string]string{"items": "At least one item is required"}
	}
	if n > maxBulkItems {
		return map[string]string{"items": "At most " + strconv.Itoa(maxBulkItems) + " items per request"}
	}
	return nil
}
