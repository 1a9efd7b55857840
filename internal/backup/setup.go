package backup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hugh/go-clinic/internal/database/models"
	"github.com/hugh/go-clinic/pkg/config"
	"github.com/hugh/go-clinic/pkg/crypto"
)

// Stores opens the LOCAL store and, when a bucket is configured, the CLOUD
// one.
func Stores(ctx context.Context, cfg *config.Config) (map[models.BackupType]BlobStore, error) {
	local, err := NewLocalStore(cfg.Backup.LocalDir)
	if err != nil {
		return nil, fmt.Errorf("opening local backup dir: %w", err)
	}
	stores := map[models.BackupType]BlobStore{models.BackupLocal: local}

	cloud, err := NewCloudStore(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("opening cloud storage: %w", err)
	}
	if cloud != nil {
		stores[models.BackupCloud] = cloud
	}
	return stores, nil
}

// Encryptor returns the snapshot encryptor, or nil when ENCRYPTION_KEY is
// unset and backups are stored as plain JSON.
func Encryptor(cfg *config.Config, logger *slog.Logger) (*crypto.Encryptor, error) {
	if cfg.Encryption.Key == "" {
		logger.Warn("ENCRYPTION_KEY not set, backups are stored unencrypted")
		return nil, nil
	}
	return crypto.NewEncryptor(cfg.Encryption.Key)
}
