package tasks

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/hugh/go-clinic/internal/notify"
)

// Task type names
const (
	TypeEmailSend           = "email:send"
	TypeBackupCreate        = "backup:create"
	TypeBackupSchedulerTick = "backup:scheduler_tick"
)

// Queue names, matching the weights in pkg/queue.
const (
	QueueCritical = "critical"
	QueueLow      = "low"
)

type EmailPayload struct {
	Message notify.Message `json:"message"`
}

func NewEmailTask(msg notify.Message) (*asynq.Task, error) {
	data, err := json.Marshal(EmailPayload{Message: msg})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeEmailSend, data, asynq.Queue(QueueCritical), asynq.MaxRetry(5)), nil
}

// BackupPayload points at a PENDING backup record created by the API.
type BackupPayload struct {
	BackupID       uuid.UUID `json:"backup_id"`
	OrganizationID uuid.UUID `json:"organization_id"`
}

func NewBackupTask(payload BackupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeBackupCreate, data,
		asynq.Queue(QueueLow),
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
	), nil
}

// The tick carries no payload; the handler sweeps every organization.
func NewBackupSchedulerTickTask() *asynq.Task {
	return asynq.NewTask(TypeBackupSchedulerTick, nil, asynq.Queue(QueueLow))
}
