package handlers

import (
	"net/http"
	"strconv"

	"github.com/hugh/go-clinic/internal/analytics"
	"github.com/hugh/go-clinic/internal/api/middleware"
	"github.com/hugh/go-clinic/internal/apperr"
)

type AnalyticsHandler struct {
	analytics *analytics.Service
}

func NewAnalyticsHandler(svc *analytics.Service) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: svc}
}

// Overview handles GET /api/v1/analytics/overview
func (h *AnalyticsHandler) Overview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.analytics.Overview(r.Context(), middleware.CallerFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"overview": overview})
}

// Doctors handles GET /api/v1/analytics/doctors
func (h *AnalyticsHandler) Doctors(w http.ResponseWriter, r *http.Request) {
	stats, err := h.analytics.DoctorStats(r.Context(), middleware.CallerFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"doctors": stats})
}

// Trends handles GET /api/v1/analytics/trends?months=N
func (h *AnalyticsHandler) Trends(w http.ResponseWriter, r *http.Request) {
	months := analytics.DefaultTrendMonths
	if raw := r.URL.Query().Get("months"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > analytics.MaxTrendMonths {
			writeError(w, r, apperr.Validation("Validation failed", map[string]string{
				"months": "Months must be between 1 and " + strconv.Itoa(analytics.MaxTrendMonths),
			}))
			return
		}
		months = n
	}

	trends, err := h.analytics.Trends(r.Context(), middleware.CallerFrom(r.Context()), months)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"trends": trends})
}

// Advanced handles GET /api/v1/analytics/advanced. Requires the
// ADVANCED_ANALYTICS add-on.
func (h *AnalyticsHandler) Advanced(w http.ResponseWriter, r *http.Request) {
	adv, err := h.analytics.Advanced(r.Context(), middleware.CallerFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"analytics": adv})
}
