package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/hugh/go-clinic/internal/analytics"
	"github.com/hugh/go-clinic/internal/api/handlers"
	"github.com/hugh/go-clinic/internal/api/middleware"
	"github.com/hugh/go-clinic/internal/auth"
	"github.com/hugh/go-clinic/internal/backup"
	"github.com/hugh/go-clinic/internal/database/models"
	"github.com/hugh/go-clinic/internal/integrations"
	"github.com/hugh/go-clinic/internal/notify"
	"github.com/hugh/go-clinic/internal/repository"
	"github.com/hugh/go-clinic/internal/tenant"
	"github.com/hugh/go-clinic/pkg/metrics"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Router struct {
	chi.Router
}

type RouterConfig struct {
	DB             *gorm.DB
	Redis          redis.UniversalClient   // optional
	QueueInspector handlers.QueueInspector // optional
	Logger         *slog.Logger
	Metrics        *metrics.Metrics

	AuthService *auth.Service
	Resolver    auth.IdentityResolver
	Mailer      notify.Mailer
	MailLinks   notify.Templates

	Backups           *backup.Service
	BackupQueue       handlers.BackupEnqueuer // nil runs CLOUD backups inline
	DefaultBackupType models.BackupType

	AI            integrations.AI
	Gateway       integrations.Gateway
	WebhookSecret string

	AllowedOrigins []string // CORS allowed origins
	RateLimitReqs  int      // Rate limit requests per window
	RateLimitSecs  int      // Rate limit window in seconds
	SecureCookies  bool
}

func NewRouter(cfg RouterConfig) *Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(middleware.Metrics(cfg.Metrics))
	}

	if cfg.RateLimitReqs > 0 {
		r.Use(middleware.RateLimit(cfg.RateLimitReqs, cfg.RateLimitSecs))
	}

	allowedOrigins := cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Repositories
	orgRepo := repository.NewOrganizationRepository(cfg.DB)
	inviteRepo := repository.NewInviteRepository(cfg.DB)
	clinicRepo := repository.NewClinicRepository(cfg.DB)
	patientRepo := repository.NewPatientRepository(cfg.DB)
	appointmentRepo := repository.NewAppointmentRepository(cfg.DB)
	ehrRepo := repository.NewEHRRepository(cfg.DB)
	addOnRepo := repository.NewAddOnRepository(cfg.DB)

	// Handlers
	healthHandler := handlers.NewHealthHandler(cfg.DB, cfg.Redis, cfg.QueueInspector)
	authHandler := handlers.NewAuthHandler(cfg.AuthService, cfg.SecureCookies)
	orgHandler := handlers.NewOrganizationHandler(orgRepo, inviteRepo, cfg.AuthService, cfg.Mailer, cfg.MailLinks)
	clinicHandler := handlers.NewClinicHandler(clinicRepo)
	patientHandler := handlers.NewPatientHandler(patientRepo)
	appointmentHandler := handlers.NewAppointmentHandler(appointmentRepo, cfg.Metrics)
	ehrHandler := handlers.NewEHRHandler(ehrRepo)
	addOnHandler := handlers.NewAddOnHandler(addOnRepo, cfg.Gateway, cfg.WebhookSecret, cfg.Metrics)
	analyticsHandler := handlers.NewAnalyticsHandler(analytics.NewService(cfg.DB, addOnRepo))
	aiHandler := handlers.NewAIHandler(cfg.AI, ehrRepo, addOnRepo, cfg.Metrics)
	backupHandler := handlers.NewBackupHandler(cfg.Backups, cfg.BackupQueue, cfg.DefaultBackupType)

	// Health and metrics (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	can := middleware.RequirePermission

	// Every authenticated route shares one per-user budget.
	var userLimit func(http.Handler) http.Handler
	if cfg.RateLimitReqs > 0 {
		userLimit = middleware.RateLimitByUser(cfg.RateLimitReqs, cfg.RateLimitSecs)
	}
	authenticated := func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Resolver))
		if userLimit != nil {
			r.Use(userLimit)
		}
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Public auth endpoints
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", authHandler.Signup)
			r.Post("/verify-email", authHandler.VerifyEmail)
			r.Post("/resend-verification", authHandler.ResendVerification)
			r.Post("/login", authHandler.Login)
			r.Post("/logout", authHandler.Logout)
			r.Post("/forgot-password", authHandler.ForgotPassword)
			r.Post("/reset-password", authHandler.ResetPassword)
		})

		// Signed by the payment provider, not by a user
		r.Post("/addons/razorpay-webhook", addOnHandler.Webhook)

		// Onboarding: verified users that may not have an organization yet
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthAllowNoOrg(cfg.Resolver))
			r.Get("/me", authHandler.Me)
		})

		// One mount owns /organizations so the onboarding routes and the
		// member routes cannot shadow each other.
		r.Route("/organizations", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(middleware.AuthAllowNoOrg(cfg.Resolver))
				r.Post("/", orgHandler.Create)
				r.Post("/join", orgHandler.Join)
			})

			r.Group(func(r chi.Router) {
				authenticated(r)

				r.With(can(tenant.ActionRead, tenant.ResourceOrganization)).Get("/me", orgHandler.Get)
				r.With(can(tenant.ActionUpdate, tenant.ResourceOrganization)).Patch("/me", orgHandler.Update)

				r.With(can(tenant.ActionRead, tenant.ResourceMember)).Get("/members", orgHandler.ListMembers)
				r.With(can(tenant.ActionRead, tenant.ResourceMember)).Get("/doctors", orgHandler.ListDoctors)
				r.With(can(tenant.ActionUpdate, tenant.ResourceMember)).Patch("/members/{id}", orgHandler.UpdateMemberRole)
				r.With(can(tenant.ActionDelete, tenant.ResourceMember)).Delete("/members/{id}", orgHandler.RemoveMember)

				r.With(can(tenant.ActionRead, tenant.ResourceInvite)).Get("/invites", orgHandler.ListInvites)
				r.With(can(tenant.ActionCreate, tenant.ResourceInvite)).Post("/invites", orgHandler.CreateInvite)
				r.With(can(tenant.ActionDelete, tenant.ResourceInvite)).Delete("/invites/{id}", orgHandler.RevokeInvite)
			})
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			authenticated(r)

			r.Route("/clinics", func(r chi.Router) {
				r.With(can(tenant.ActionRead, tenant.ResourceClinic)).Get("/", clinicHandler.List)
				r.With(can(tenant.ActionCreate, tenant.ResourceClinic)).Post("/", clinicHandler.Create)
				r.With(can(tenant.ActionRead, tenant.ResourceClinic)).Get("/{id}", clinicHandler.Get)
				r.With(can(tenant.ActionUpdate, tenant.ResourceClinic)).Patch("/{id}", clinicHandler.Update)
				r.With(can(tenant.ActionDelete, tenant.ResourceClinic)).Delete("/{id}", clinicHandler.Delete)
			})

			r.Route("/patients", func(r chi.Router) {
				r.With(can(tenant.ActionRead, tenant.ResourcePatient)).Get("/", patientHandler.List)
				r.With(can(tenant.ActionCreate, tenant.ResourcePatient)).Post("/", patientHandler.Create)
				r.With(can(tenant.ActionCreate, tenant.ResourcePatient)).Post("/bulk", patientHandler.Bulk)
				r.With(can(tenant.ActionRead, tenant.ResourcePatient)).Get("/{id}", patientHandler.Get)
				r.With(can(tenant.ActionRead, tenant.ResourcePatient)).Get("/{id}/history", patientHandler.History)
				r.With(can(tenant.ActionUpdate, tenant.ResourcePatient)).Patch("/{id}", patientHandler.Update)
				r.With(can(tenant.ActionDelete, tenant.ResourcePatient)).Delete("/{id}", patientHandler.Delete)
			})

			r.Route("/appointments", func(r chi.Router) {
				r.With(can(tenant.ActionRead, tenant.ResourceAppointment)).Get("/", appointmentHandler.List)
				r.With(can(tenant.ActionCreate, tenant.ResourceAppointment)).Post("/", appointmentHandler.Create)
				r.With(can(tenant.ActionCreate, tenant.ResourceAppointment)).Post("/bulk", appointmentHandler.Bulk)
				r.With(can(tenant.ActionRead, tenant.ResourceAppointment)).Get("/{id}", appointmentHandler.Get)
				r.With(can(tenant.ActionUpdate, tenant.ResourceAppointment)).Patch("/{id}", appointmentHandler.Update)
				r.With(can(tenant.ActionUpdate, tenant.ResourceAppointment)).Patch("/{id}/status", appointmentHandler.UpdateStatus)
				r.With(can(tenant.ActionUpdate, tenant.ResourceAppointment)).Post("/{id}/cancel", appointmentHandler.Cancel)
				r.With(can(tenant.ActionUpdate, tenant.ResourceAppointment)).Post("/{id}/complete", appointmentHandler.Complete)
				r.With(can(tenant.ActionDelete, tenant.ResourceAppointment)).Delete("/{id}", appointmentHandler.Delete)
			})

			r.Route("/ehr", func(r chi.Router) {
				r.With(can(tenant.ActionRead, tenant.ResourceEHR)).Get("/", ehrHandler.List)
				r.With(can(tenant.ActionCreate, tenant.ResourceEHR)).Post("/", ehrHandler.Create)
				r.With(can(tenant.ActionRead, tenant.ResourceEHR)).Get("/{id}", ehrHandler.Get)
				r.With(can(tenant.ActionUpdate, tenant.ResourceEHR)).Patch("/{id}", ehrHandler.Update)
				r.With(can(tenant.ActionDelete, tenant.ResourceEHR)).Delete("/{id}", ehrHandler.Delete)
			})

			r.Route("/addons", func(r chi.Router) {
				r.With(can(tenant.ActionRead, tenant.ResourceAddOn)).Get("/", addOnHandler.Catalog)
				r.With(can(tenant.ActionRead, tenant.ResourceAddOn)).Get("/active", addOnHandler.Active)
				r.With(can(tenant.ActionCreate, tenant.ResourceAddOn)).Post("/{id}/subscribe", addOnHandler.Subscribe)
				r.With(can(tenant.ActionDelete, tenant.ResourceAddOn)).Post("/{id}/cancel", addOnHandler.Cancel)
			})

			r.Route("/analytics", func(r chi.Router) {
				r.Use(can(tenant.ActionRead, tenant.ResourceAnalytics))
				r.Get("/overview", analyticsHandler.Overview)
				r.Get("/doctors", analyticsHandler.Doctors)
				r.Get("/trends", analyticsHandler.Trends)
				r.Get("/advanced", analyticsHandler.Advanced)
			})

			r.Route("/ai/ehr/{id}", func(r chi.Router) {
				r.Use(can(tenant.ActionUse, tenant.ResourceAI))
				r.Post("/transcribe", aiHandler.Transcribe)
				r.Post("/ocr", aiHandler.OCR)
				r.Post("/summarize", aiHandler.Summarize)
			})

			r.Route("/backups", func(r chi.Router) {
				r.With(can(tenant.ActionRead, tenant.ResourceBackup)).Get("/", backupHandler.List)
				r.With(can(tenant.ActionCreate, tenant.ResourceBackup)).Post("/", backupHandler.Create)
				r.With(can(tenant.ActionUpdate, tenant.ResourceBackup)).Post("/restore", backupHandler.Restore)
				r.With(can(tenant.ActionRead, tenant.ResourceBackup)).Get("/{id}", backupHandler.Get)
				r.With(can(tenant.ActionRead, tenant.ResourceBackup)).Get("/{id}/download", backupHandler.Download)
				r.With(can(tenant.ActionUpdate, tenant.ResourceBackup)).Post("/{id}/restore", backupHandler.RestoreFromBackup)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"Route not found","code":"NOT_FOUND"}`))
	})

	return &Router{r}
}
