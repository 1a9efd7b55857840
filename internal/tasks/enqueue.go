package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/hugh/go-clinic/internal/notify"
	"github.com/hugh/go-clinic/pkg/util"
)

// Enqueuer is the subset of *asynq.Client the API needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueMailer hands outbound email to the worker instead of sending inline.
type QueueMailer struct {
	client Enqueuer
}

func NewQueueMailer(client Enqueuer) *QueueMailer {
	return &QueueMailer{client: client}
}

func (m *QueueMailer) Send(ctx context.Context, msg notify.Message) error {
	task, err := NewEmailTask(msg)
	if err != nil {
		return fmt.Errorf("building email task: %w", err)
	}
	if _, err := m.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueueing email: %w", err)
	}
	return nil
}

// BackupQueue schedules PENDING backups for the worker.
type BackupQueue struct {
	client Enqueuer
}

func NewBackupQueue(client Enqueuer) *BackupQueue {
	return &BackupQueue{client: client}
}

func (q *BackupQueue) EnqueueBackup(ctx context.Context, orgID, backupID uuid.UUID) error {
	task, err := NewBackupTask(BackupPayload{BackupID: backupID, OrganizationID: orgID})
	if err != nil {
		return fmt.Errorf("building backup task: %w", err)
	}
	if _, err := q.client.EnqueueContext(ctx, task, asynq.TaskID("backup:"+backupID.String())); err != nil {
		return fmt.Errorf("enqueueing backup: %w", err)
	}
	return nil
}

// BackupSchedule describes the registered periodic sweep.
type BackupSchedule struct {
	EntryID string
	NextRun time.Time
}

// RegisterBackupSchedule registers the periodic backup sweep on s and reports
// when it first fires after now. Scheduler entries run in UTC.
func RegisterBackupSchedule(s *asynq.Scheduler, cronExpr string, now time.Time) (BackupSchedule, error) {
	next, err := util.NextCronTime(cronExpr, now)
	if err != nil {
		return BackupSchedule{}, err
	}
	entryID, err := s.Register(cronExpr, NewBackupSchedulerTickTask())
	if err != nil {
		return BackupSchedule{}, fmt.Errorf("registering backup schedule: %w", err)
	}
	return BackupSchedule{EntryID: entryID, NextRun: next}, nil
}
