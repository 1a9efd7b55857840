package dto

import (
	"github.com/hugh/go-clinic/internal/apperr"
	"github.com/hugh/go-clinic/internal/repository"
)

type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// NewErrorResponse renders err for the client. Internal causes never leak.
func NewErrorResponse(err error) ErrorResponse {
	e := apperr.As(err)
	return ErrorResponse{Error: e.Message, Code: e.Code, Details: e.Details}
}

type SuccessResponse struct {
	Message string `json:"message"`
}

// Pagination is merged into every list body next to the named items key.
type Pagination struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"totalPages"`
}

func NewPagination(p repository.Pagination, total int64) Pagination {
	return Pagination{
		Total:      total,
		Page:       p.Page,
		Limit:      p.Limit,
		TotalPages: p.TotalPages(total),
	}
}

// List builds {"<key>": items, "total", "page", "limit", "totalPages"}.
func List(key string, items interface{}, p repository.Pagination, total int64) map[string]interface{} {
	pg := NewPagination(p, total)
	return map[string]interface{}{
		key:          items,
		"total":      pg.Total,
		"page":       pg.Page,
		"limit":      pg.Limit,
		"totalPages": pg.TotalPages,
	}
}
