package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const healthTimeout = 2 * time.Second

// QueueInspector is the part of asynq.Inspector the health check uses.
type QueueInspector interface {
	Queues() ([]string, error)
}

type HealthHandler struct {
	db        *gorm.DB
	redis     redis.UniversalClient
	inspector QueueInspector
}

// NewHealthHandler builds the handler. redis and inspector may be nil when
// the deployment runs without them.
func NewHealthHandler(db *gorm.DB, redis redis.UniversalClient, inspector QueueInspector) *HealthHandler {
	return &HealthHandler{db: db, redis: redis, inspector: inspector}
}

type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	services := make(map[string]string)
	status := "healthy"

	check := func(name string, err error) {
		if err != nil {
			services[name] = "unhealthy"
			status = "unhealthy"
			return
		}
		services[name] = "healthy"
	}

	check("database", h.pingDB(ctx))
	if h.redis != nil {
		check("redis", h.redis.Ping(ctx).Err())
	}
	if h.inspector != nil {
		_, err := h.inspector.Queues()
		check("queue", err)
	}

	statusCode := http.StatusOK
	if status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, HealthResponse{Status: status, Services: services})
}

// Ready reports whether the API can serve requests, which only needs the
// database.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.pingDB(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("database unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *HealthHandler) pingDB(ctx context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
