package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"sicet-backend-go/internal/config"
	"sicet-backend-go/internal/services"
)

// Services are the stateful collaborators built in main.
type Services struct {
	Lifecycle *services.Lifecycle
	Matrix    *services.Matrix
	Overdue   *services.OverdueProcessor
	Exporter  *services.Exporter
	Mailer    services.Mailer
	Hub       *services.DashboardHub
}

type Server struct {
	DB        *sqlx.DB
	Config    config.Config
	Tokens    services.TokenService
	Clock     services.Clock
	Lifecycle *services.Lifecycle
	Matrix    *services.Matrix
	Overdue   *services.OverdueProcessor
	Exporter  *services.Exporter
	Mailer    services.Mailer
	Hub       *services.DashboardHub
	Logger    *zap.Logger

	authLimiter *RateLimiterStore
	cronLimiter *RateLimiterStore
}

func NewTokenService(cfg config.Config) services.TokenService {
	return services.TokenService{
		Secret:     []byte(cfg.JWTSecret),
		Issuer:     cfg.JWTIssuer,
		AccessTTL:  time.Duration(cfg.AccessTTLSeconds) * time.Second,
		RefreshTTL: time.Duration(cfg.RefreshTTLSeconds) * time.Second,
	}
}

func NewServer(db *sqlx.DB, cfg config.Config, clock services.Clock, svc Services, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		DB:          db,
		Config:      cfg,
		Tokens:      NewTokenService(cfg),
		Clock:       clock,
		Lifecycle:   svc.Lifecycle,
		Matrix:      svc.Matrix,
		Overdue:     svc.Overdue,
		Exporter:    svc.Exporter,
		Mailer:      svc.Mailer,
		Hub:         svc.Hub,
		Logger:      logger.Named("http"),
		authLimiter: PerMinute(cfg.LoginRatePerMinute),
		cronLimiter: PerMinute(6),
	}
}

func (s *Server) loadCaller(ctx context.Context, profileID string) (services.Caller, error) {
	return services.LoadCaller(ctx, s.DB, profileID)
}

func (s *Server) location() *time.Location {
	if s.Clock.Location == nil {
		return time.UTC
	}
	return s.Clock.Location
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(Recoverer(s.Logger))
	r.Use(RequestLogger(s.Logger))
	if len(s.Config.CorsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.Config.CorsOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Content-Disposition"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Route("/api", func(api chi.Router) {
		api.Group(func(auth chi.Router) {
			auth.Use(s.authLimiter.Limit)
			auth.Post("/auth/login", s.Login)
			auth.Post("/auth/activate", s.Activate)
			auth.Post("/auth/refresh", s.Refresh)
		})
		api.Post("/auth/logout", s.Logout)

		api.With(s.cronLimiter.Limit, RequireCronSecret(s.Config.CronSecret)).
			Post("/cron/overdue-alerts", s.RunOverdueAlerts)

		api.Group(func(priv chi.Router) {
			priv.Use(WithAuth(s.Tokens, s.loadCaller))

			priv.Get("/me", s.Me)
			priv.Put("/me/password", s.ChangePassword)

			priv.Route("/devices", func(devices chi.Router) {
				devices.With(Require(services.ResourceDevices, services.ActionRead)).Get("/", s.ListDevices)
				devices.With(Require(services.ResourceDevices, services.ActionWrite)).Post("/", s.CreateDevice)
				devices.With(Require(services.ResourceDevices, services.ActionRead)).Get("/{deviceId}", s.GetDevice)
				devices.With(Require(services.ResourceDevices, services.ActionWrite)).Put("/{deviceId}", s.UpdateDevice)
				devices.With(Require(services.ResourceDevices, services.ActionDelete)).Delete("/{deviceId}", s.DeleteDevice)
			})

			priv.Route("/kpis", func(kpis chi.Router) {
				kpis.With(Require(services.ResourceKPIs, services.ActionRead)).Get("/", s.ListKPIs)
				kpis.With(Require(services.ResourceKPIs, services.ActionWrite)).Post("/", s.CreateKPI)
				kpis.With(Require(services.ResourceKPIs, services.ActionRead)).Get("/{kpiId}", s.GetKPI)
				kpis.With(Require(services.ResourceKPIs, services.ActionWrite)).Put("/{kpiId}", s.UpdateKPI)
				kpis.With(Require(services.ResourceKPIs, services.ActionDelete)).Delete("/{kpiId}", s.DeleteKPI)
			})

			priv.Route("/todolists", func(todolists chi.Router) {
				todolists.With(Require(services.ResourceTodolists, services.ActionRead)).Get("/", s.ListTodolists)
				todolists.With(Require(services.ResourceTodolists, services.ActionWrite)).Post("/", s.CreateTodolists)
				todolists.With(Require(services.ResourceTodolists, services.ActionRead)).Get("/{todolistId}", s.GetTodolist)
				todolists.With(Require(services.ResourceTodolists, services.ActionDelete)).Delete("/{todolistId}", s.DeleteTodolist)
				todolists.With(Require(services.ResourceTasks, services.ActionWrite)).Post("/{todolistId}/discard", s.DiscardTodolist)
			})

			priv.With(Require(services.ResourceTasks, services.ActionWrite)).Put("/tasks/{taskId}", s.UpdateTask)

			priv.With(Require(services.ResourceMatrix, services.ActionRead)).Get("/matrix", s.GetMatrix)
			priv.With(Require(services.ResourceMatrix, services.ActionDelete)).Delete("/matrix/groups", s.DeleteMatrixGroup)

			priv.Route("/export", func(export chi.Router) {
				export.Use(Require(services.ResourceExports, services.ActionRead))
				export.Get("/devices/qrcodes.pdf", s.ExportDeviceQRCodes)
				export.Get("/{kind}.{format}", s.Export)
			})

			priv.Route("/report-templates", func(templates chi.Router) {
				templates.With(Require(services.ResourceTemplates, services.ActionRead)).Get("/", s.ListTemplates)
				templates.With(Require(services.ResourceTemplates, services.ActionWrite)).Post("/", s.CreateTemplate)
				templates.With(Require(services.ResourceTemplates, services.ActionRead)).Get("/{templateId}", s.GetTemplate)
				templates.With(Require(services.ResourceTemplates, services.ActionWrite)).Put("/{templateId}", s.UpdateTemplate)
				templates.With(Require(services.ResourceTemplates, services.ActionDelete)).Delete("/{templateId}", s.DeleteTemplate)
			})

			priv.With(Require(services.ResourceDashboard, services.ActionRead)).Get("/dashboard/stats", s.DashboardStats)

			priv.Route("/admin", func(admin chi.Router) {
				admin.Route("/users", func(users chi.Router) {
					users.With(Require(services.ResourceUsers, services.ActionRead)).Get("/", s.ListUsers)
					users.With(Require(services.ResourceUsers, services.ActionWrite)).Post("/", s.PreRegisterUser)
					users.With(Require(services.ResourceUsers, services.ActionWrite)).Post("/{userId}/reset-password", s.ResetUserPassword)
					users.With(Require(services.ResourceUsers, services.ActionDelete)).Delete("/{userId}", s.DeleteUser)
				})
				admin.With(Require(services.ResourceUsers, services.ActionRead)).Get("/audit-logs", s.ListAuditLogs)

				admin.Route("/alerts", func(alerts chi.Router) {
					alerts.With(Require(services.ResourceAlerts, services.ActionRead)).Get("/todolists", s.ListTodolistAlerts)
					alerts.With(Require(services.ResourceAlerts, services.ActionRead)).Get("/kpis", s.ListKPIAlerts)
					alerts.With(Require(services.ResourceAlerts, services.ActionRead)).Get("/subscriptions", s.ListSubscriptions)
					alerts.With(Require(services.ResourceAlerts, services.ActionWrite)).Post("/subscriptions", s.CreateSubscription)
					alerts.With(Require(services.ResourceAlerts, services.ActionDelete)).Delete("/subscriptions/{subscriptionId}", s.DeleteSubscription)
				})
			})
		})
	})

	r.Get("/ws/dashboard", s.DashboardSocket)
	return r
}
