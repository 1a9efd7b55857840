package models

import "github.com/google/uuid"

type BackupType string

const (
	BackupLocal BackupType = "LOCAL"
	BackupCloud BackupType = "CLOUD"
)

type BackupTrigger string

const (
	TriggerManual     BackupTrigger = "MANUAL"
	TriggerScheduled  BackupTrigger = "SCHEDULED"
	TriggerPreRestore BackupTrigger = "PRE_RESTORE"
)

type BackupStatus string

const (
	BackupPending   BackupStatus = "PENDING"
	BackupCompleted BackupStatus = "COMPLETED"
	BackupFailed    BackupStatus = "FAILED"
)

// Backup is an append-only record of one tenant snapshot.
type Backup struct {
	Base
	OrganizationID uuid.UUID     `gorm:"type:uuid;index;not null" json:"organization_id"`
	Type           BackupType    `gorm:"not null" json:"type"`
	Trigger        BackupTrigger `gorm:"not null" json:"trigger"`
	Status         BackupStatus  `gorm:"not null;default:'PENDING'" json:"status"`
	StorageKey     string        `json:"storage_key,omitempty"`
	SizeBytes      int64         `json:"size_bytes"`
	Checksum       string        `json:"checksum,omitempty"` // sha256 hex of the stored blob
	Encrypted      bool          `json:"encrypted"`
	Error          string        `json:"error,omitempty"`
	CreatedBy      *uuid.UUID    `gorm:"type:uuid" json:"created_by,omitempty"`
}

func (Backup) TableName() string {
	return "backups"
}
