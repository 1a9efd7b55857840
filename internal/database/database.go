package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hugh/go-clinic/internal/database/models"
	"github.com/hugh/go-clinic/pkg/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func Connect(cfg *config.DatabaseConfig, log *slog.Logger) (*gorm.DB, error) {
	gormLogger := logger.Default.LogMode(logger.Warn)
	if cfg.SSLMode == "disable" {
		gormLogger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying db: %w", err)
	}

	// Connection pool settings
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)

	log.Info("connected to database", "host", cfg.Host, "database", cfg.Name)

	return db, nil
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(models.All()...)
}

// Catalog is the built-in add-on catalog.
var Catalog = []models.AddOn{
	{
		Name:         models.AddOnAIScribe,
		DisplayName:  "AI Scribe",
		Description:  "Voice-to-text consultation notes, prescription OCR and AI visit summaries",
		Price:        99900,
		Currency:     "INR",
		BillingModel: models.BillingPerUse,
		PlanID:       "plan_ai_scribe",
		IsActive:     true,
	},
	{
		Name:         models.AddOnAdvancedAnalytics,
		DisplayName:  "Advanced Analytics",
		Description:  "Clinic utilisation, peak hours and patient retention insights",
		Price:        49900,
		Currency:     "INR",
		BillingModel: models.BillingFlat,
		PlanID:       "plan_advanced_analytics",
		IsActive:     true,
	},
}

// SeedAddOns inserts missing catalog entries. Existing rows are left as is.
func SeedAddOns(ctx context.Context, db *gorm.DB) error {
	for _, entry := range Catalog {
		var existing models.AddOn
		err := db.WithContext(ctx).Where("name = ?", entry.Name).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("looking up add-on %s: %w", entry.Name, err)
		}
		addOn := entry
		if err := db.WithContext(ctx).Create(&addOn).Error; err != nil {
			return fmt.Errorf("seeding add-on %s: %w", entry.Name, err)
		}
	}
	return nil
}
