package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polytech-platform/traffic-attendance-service/internal/health"
	"github.com/polytech-platform/traffic-attendance-service/internal/http/handler"
	"github.com/polytech-platform/traffic-attendance-service/internal/http/middleware"
	"github.com/polytech-platform/traffic-attendance-service/internal/http/response"
	"github.com/polytech-platform/traffic-attendance-service/internal/security"
)

type Dependencies struct {
	AuthHandler    *handler.AuthHandler
	SessionHandler *handler.SessionHandler
	TabletHandler  *handler.TabletHandler
	JWTManager     *security.JWTManager

	CORSOrigins []string

	// Per-scope limits, requests per minute.
	APIRateLimitRPM       int
	PINLookupRateLimitRPM int
	AttendRateLimitRPM    int
	// RateLimitBackend is shared by all scopes; nil means per-instance
	// in-memory limiting.
	RateLimitBackend middleware.Limiter

	Readiness      *health.ProbeRunner
	EnableOTelHTTP bool
}

func NewRouter(dep Dependencies) http.Handler {
	backend := dep.RateLimitBackend
	if backend == nil {
		backend = middleware.NewLocalSlidingWindowLimiter()
	}
	apiLimiter := middleware.NewRateLimiterWithBackend(backend, dep.APIRateLimitRPM, time.Minute, middleware.FailOpen, "api", nil).Middleware()
	// PIN lookups fail closed: with the limiter down, an open gate invites
	// pin scanning.
	pinLimiter := middleware.NewRateLimiterWithBackend(backend, dep.PINLookupRateLimitRPM, time.Minute, middleware.FailClosed, "pin_lookup", nil).Middleware()
	attendLimiter := middleware.NewRateLimiterWithBackend(backend, dep.AttendRateLimitRPM, time.Minute, middleware.FailOpen, "attend", nil).Middleware()

	requireTeacher := middleware.RequireStaff(dep.JWTManager, security.RoleTeacher)
	requireAdmin := middleware.RequireStaff(dep.JWTManager, security.RoleAdmin)
	requireStaff := middleware.RequireAnyStaff(dep.JWTManager)
	requireLaunch := middleware.RequireLaunch(dep.JWTManager)

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(1 << 20))
	r.Use(apiLimiter)

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/teacher/login", dep.AuthHandler.TeacherLogin)
			r.Post("/admin/login", dep.AuthHandler.AdminLogin)
			r.With(requireAdmin).Post("/teachers", dep.AuthHandler.CreateTeacher)
			r.With(requireLaunch).Get("/launch/me", dep.AuthHandler.LaunchMe)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.With(requireStaff).Post("/", dep.SessionHandler.Open)
			r.With(requireTeacher).Get("/", dep.SessionHandler.List)
			r.With(requireStaff).Get("/{session_id}", dep.SessionHandler.Get)
			r.With(requireStaff).Post("/{session_id}/close", dep.SessionHandler.Close)
			r.With(requireStaff).Get("/{session_id}/attendances", dep.SessionHandler.Attendances)
			r.With(requireLaunch, attendLimiter).Post("/{session_id}/attend", dep.SessionHandler.Attend)
		})

		r.Route("/tablets", func(r chi.Router) {
			r.Post("/init", dep.TabletHandler.Init)
			r.With(requireAdmin).Post("/register", dep.TabletHandler.Register)
			r.With(requireAdmin).Get("/", dep.TabletHandler.List)
			r.With(requireAdmin, pinLimiter).Get("/by-reg-pin", dep.TabletHandler.ByRegPIN)
			r.With(requireAdmin).Get("/statuses", dep.TabletHandler.Statuses)
			r.With(requireAdmin).Get("/statuses/stream", dep.TabletHandler.StatusesStream)
			r.With(requireAdmin).Get("/{tablet_id}", dep.TabletHandler.Get)
			r.With(requireAdmin).Delete("/{tablet_id}", dep.TabletHandler.Delete)
			// Kiosk endpoints authenticate by display PIN; rate limited to
			// slow pin scanning.
			r.With(pinLimiter).Get("/current", dep.TabletHandler.Current)
			r.With(pinLimiter).Get("/events", dep.TabletHandler.Events)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
