package router

import (
	"net"
	"net/http"
	"net/smtp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"civicdesk/internal/captcha"
	"civicdesk/internal/config"
	"civicdesk/internal/handlers"
	"civicdesk/internal/middleware"
	"civicdesk/internal/models"
	"civicdesk/internal/notify"
	"civicdesk/internal/repository/postgres"
	"civicdesk/internal/service"
	"civicdesk/internal/workflow"
)

func New(log zerolog.Logger, db *pgxpool.Pool, rdb *redis.Client, cfg config.Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.Origin},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))
	r.Use(httprate.LimitByIP(200, time.Minute))
	r.Use(middleware.WithAuth(log, cfg))

	// Health
	r.Get("/healthz", handlers.Health())

	// Collaborators
	var dispatcher notify.Dispatcher
	if cfg.SMTPAddr != "" {
		var auth smtp.Auth
		if cfg.SMTPUser != "" {
			host := cfg.SMTPAddr
			if h, _, err := net.SplitHostPort(cfg.SMTPAddr); err == nil {
				host = h
			}
			auth = smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPass, host)
		}
		dispatcher = &notify.SMTPDispatcher{Addr: cfg.SMTPAddr, From: cfg.SMTPFrom, Auth: auth, Log: log}
	} else {
		dispatcher = &notify.LogDispatcher{Log: log}
	}
	captchas := captcha.NewStore(rdb, 5*time.Minute)

	// Repos + engine + handlers
	store := postgres.NewWorkflowStore(db)
	complaintRepo := postgres.NewComplaintRepo(db)
	userRepo := postgres.NewUserRepo(db)

	engine := workflow.NewService(store, dispatcher, captchas, log)

	authSvc := service.NewAuthService(userRepo, cfg.SessionSecret)
	ah := handlers.NewAuthHTTP(authSvc, userRepo)
	ch := handlers.NewComplaintHTTP(engine, complaintRepo, userRepo)
	gh := handlers.NewGuestHTTP(engine, captchas)
	uh := handlers.NewUserHTTP(userRepo)
	rh := handlers.NewReportsHTTP(complaintRepo)

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", ah.Register())
		r.Post("/login", ah.Login())
		r.Post("/logout", ah.Logout())
		r.Get("/me", ah.Me())
	})

	// Public guest flow; tighter rate limit, no auth.
	r.Route("/api/guest", func(r chi.Router) {
		r.Use(httprate.LimitByIP(20, time.Minute))
		r.Get("/captcha", gh.Captcha())
		r.Post("/complaints", gh.Submit())
		r.Post("/verify", gh.Verify())
		r.Post("/resend", gh.Resend())
	})

	r.Route("/api/complaints", func(r chi.Router) {
		r.Use(middleware.RequireAuth)
		r.Get("/", ch.List())
		r.Post("/", ch.Create())
		r.Route("/{ref}", func(r chi.Router) {
			r.Get("/", ch.Get())
			r.Get("/log", ch.StatusLog())
			r.With(middleware.RequireRoles(models.RoleAdmin, models.RoleWardOfficer, models.RoleMaintenance)).
				Post("/transition", ch.Transition())
			r.With(middleware.RequireRoles(models.RoleAdmin)).
				Post("/reopen", ch.Reopen())
		})
	})

	r.Route("/api/users", func(r chi.Router) {
		r.Use(middleware.RequireAuth)
		r.With(middleware.RequireRoles(models.RoleAdmin, models.RoleWardOfficer)).Get("/", uh.List())
		r.With(middleware.RequireRoles(models.RoleAdmin)).Post("/", uh.Create())
		r.Route("/{id}", func(r chi.Router) {
			r.With(middleware.RequireRoles(models.RoleAdmin)).Patch("/role", uh.UpdateRole())
			r.With(middleware.RequireRoles(models.RoleAdmin)).Patch("/active", uh.SetActive())
			r.With(middleware.RequireSelfOrRoles(models.RoleAdmin)).Patch("/password", uh.UpdatePassword())
		})
	})

	r.Route("/api/reports", func(r chi.Router) {
		r.Use(middleware.RequireAuth)
		r.With(middleware.RequireRoles(models.RoleAdmin, models.RoleWardOfficer)).Get("/summary", rh.Summary())
	})

	return r
}
