//go:build ignore

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/hugh/go-clinic/internal/auth"
	"github.com/hugh/go-clinic/internal/database"
	"github.com/hugh/go-clinic/internal/database/models"
	"github.com/hugh/go-clinic/internal/notify"
	"github.com/hugh/go-clinic/internal/repository"
	"github.com/hugh/go-clinic/internal/tenant"
	"github.com/hugh/go-clinic/pkg/config"
	"github.com/hugh/go-clinic/pkg/util"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Server.Env)
	ctx := context.Background()

	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	// Run migrations
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}
	if err := database.SeedAddOns(ctx, db); err != nil {
		log.Fatalf("failed to seed add-ons: %v", err)
	}

	// Create admin user
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Expiry())
	mailer := notify.NewLogMailer(logger, cfg.Mail.From)
	authService := auth.NewService(db, jwtService, mailer, notify.Templates{BaseURL: cfg.Mail.BaseURL}, logger)

	email := os.Getenv("ADMIN_EMAIL")
	password := os.Getenv("ADMIN_PASSWORD")
	name := os.Getenv("ADMIN_NAME")

	if email == "" {
		email = "admin@example.com"
	}
	if password == "" {
		password = "admin123!"
	}
	if name == "" {
		name = "Admin"
	}

	user, err := authService.Signup(ctx, auth.SignupInput{
		Email:    email,
		Password: password,
		Name:     name,
	})
	if err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			fmt.Printf("Admin user already exists: %s\n", email)
			return
		}
		log.Fatalf("failed to create admin user: %v", err)
	}

	// Seeded accounts skip the emailed link.
	if err := db.Model(user).Updates(map[string]interface{}{
		"email_verified":       true,
		"verification_token":   "",
		"verification_expires": nil,
	}).Error; err != nil {
		log.Fatalf("failed to verify admin user: %v", err)
	}

	caller := tenant.Caller{UserID: user.ID, Role: models.RoleAdmin, Email: user.Email}
	org, err := repository.NewOrganizationRepository(db).Create(ctx, caller, repository.OrganizationInput{
		Name: "Default Practice",
	})
	if err != nil {
		log.Fatalf("failed to create organization: %v", err)
	}
	caller.OrganizationID = org.ID

	clinic, err := repository.NewClinicRepository(db).Create(ctx, caller, repository.ClinicInput{
		Name: "Main Clinic",
	})
	if err != nil {
		log.Fatalf("failed to create clinic: %v", err)
	}

	resp, err := authService.Login(ctx, auth.LoginInput{Email: email, Password: password})
	if err != nil {
		log.Fatalf("failed to log in as admin: %v", err)
	}

	fmt.Printf("Admin user created successfully!\n")
	fmt.Printf("Email: %s\n", resp.User.Email)
	fmt.Printf("Organization: %s\n", org.Name)
	fmt.Printf("Clinic: %s\n", clinic.Name)
	fmt.Printf("Token: %s\n", resp.Token)
}
