package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/polytech-platform/traffic-attendance-service/internal/config"
	"github.com/polytech-platform/traffic-attendance-service/internal/domain"
	"github.com/polytech-platform/traffic-attendance-service/internal/health"
	"github.com/polytech-platform/traffic-attendance-service/internal/http/handler"
	"github.com/polytech-platform/traffic-attendance-service/internal/http/middleware"
	"github.com/polytech-platform/traffic-attendance-service/internal/http/router"
	"github.com/polytech-platform/traffic-attendance-service/internal/jobs"
	"github.com/polytech-platform/traffic-attendance-service/internal/observability"
	"github.com/polytech-platform/traffic-attendance-service/internal/realtime"
	"github.com/polytech-platform/traffic-attendance-service/internal/repository"
	"github.com/polytech-platform/traffic-attendance-service/internal/security"
	"github.com/polytech-platform/traffic-attendance-service/internal/service"
)

// App holds every long-lived component of the attendance backend. New wires
// them; Run drives them until the context is cancelled.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Server  *http.Server
	Runtime *observability.Runtime

	hub     *realtime.Hub
	bridge  *realtime.RedisBridge
	sweeper *jobs.Sweeper
	redis   *redis.Client
	db      *gorm.DB
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	runtime, err := observability.InitRuntime(ctx, observability.RuntimeConfig{
		Enabled:     cfg.OTELEnabled,
		Endpoint:    cfg.OTELEndpoint,
		Insecure:    cfg.OTELInsecure,
		ServiceName: cfg.OTELServiceName,
		Environment: cfg.OTELEnvironment,
		LogLevel:    cfg.LogLevel,
	})
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}
	logger := runtime.Logger

	db, err := openDatabase(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&domain.Tablet{}, &domain.Session{}, &domain.Attendance{}, &domain.Teacher{}); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	hub := realtime.NewHub(cfg.TabletOfflineGrace, logger)

	// Redis is optional. Without it the limiter, the PIN miss cache and the
	// realtime fan-out all stay in-process, which is fine for one instance.
	var redisClient *redis.Client
	var bridge *realtime.RedisBridge
	var limiter middleware.Limiter
	var pinCache service.PINLookupCache = service.NewInMemoryPINLookupCache()
	var notifier service.Notifier = hub
	probes := []health.Probe{health.NewDatabaseProbe(db)}
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		bridge = realtime.NewRedisBridge(redisClient, hub, logger)
		limiter = middleware.NewRedisFixedWindowLimiter(redisClient, "")
		pinCache = service.NewRedisPINLookupCache(redisClient, "")
		notifier = bridge
		probes = append(probes, health.NewRedisProbe(redisClient))
	}

	jwtMgr := security.NewJWTManager(cfg.OTELServiceName, cfg.StaffTokenSecret, cfg.LaunchTokenSecret, cfg.StaffTokenTTL)

	tablets := repository.NewTabletRepository(db)
	sessions := repository.NewSessionRepository(db)
	attendances := repository.NewAttendanceRepository(db)
	teachers := repository.NewTeacherRepository(db)

	tabletSvc := service.NewTabletService(tablets, sessions, pinCache, notifier, logger)
	sessionSvc := service.NewSessionService(sessions, tablets, cfg.QRRotateSeconds, cfg.SessionMaxDuration, service.OpenPolicy(cfg.SessionOpenPolicy), notifier, logger)
	attendanceSvc := service.NewAttendanceService(attendances, sessions, cfg.SessionMaxDuration, notifier, logger)
	authSvc := service.NewAuthService(teachers, jwtMgr, cfg.AdminUsername, cfg.AdminPassword, logger)

	mux := router.NewRouter(router.Dependencies{
		AuthHandler:           handler.NewAuthHandler(authSvc),
		SessionHandler:        handler.NewSessionHandler(sessionSvc, attendanceSvc, tabletSvc),
		TabletHandler:         handler.NewTabletHandler(tabletSvc, sessionSvc, hub, cfg.SSEHeartbeat),
		JWTManager:            jwtMgr,
		CORSOrigins:           cfg.CORSOrigins,
		APIRateLimitRPM:       cfg.APIRateLimitRPM,
		PINLookupRateLimitRPM: cfg.PINLookupRateLimitRPM,
		AttendRateLimitRPM:    cfg.AttendRateLimitRPM,
		RateLimitBackend:      limiter,
		Readiness:             health.NewProbeRunner(2*time.Second, probes...),
		EnableOTelHTTP:        cfg.OTELEnabled,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		// SSE streams stay open, so no WriteTimeout here. Idle kiosks are
		// kept alive by heartbeats instead.
		IdleTimeout: 2 * time.Minute,
	}

	return &App{
		Config:  cfg,
		Logger:  logger,
		Server:  server,
		Runtime: runtime,
		hub:     hub,
		bridge:  bridge,
		sweeper: jobs.NewSweeper(sessions, cfg.SessionMaxDuration, cfg.SweepInterval, notifier, logger),
		redis:   redisClient,
		db:      db,
	}, nil
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}
	switch cfg.DatabaseDriver {
	case "postgres":
		return gorm.Open(postgres.Open(cfg.DatabaseDSN), gormCfg)
	default:
		return gorm.Open(sqlite.Open(cfg.DatabaseDSN), gormCfg)
	}
}

// Run serves until ctx is cancelled, then drains connections and flushes
// telemetry within the configured shutdown timeout.
func (a *App) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		a.Logger.Info("http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		a.sweeper.Run(groupCtx)
		return nil
	})
	if a.bridge != nil {
		group.Go(func() error {
			a.bridge.Run(groupCtx)
			return nil
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout)
		defer cancel()
		return a.Server.Shutdown(shutdownCtx)
	})

	err := group.Wait()
	a.close()
	return err
}

func (a *App) close() {
	a.hub.Stop()
	if a.redis != nil {
		if cerr := a.redis.Close(); cerr != nil {
			a.Logger.Warn("redis close failed", "error", cerr)
		}
	}
	if sqlDB, derr := a.db.DB(); derr == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			a.Logger.Warn("database close failed", "error", cerr)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout)
	defer cancel()
	if err := a.Runtime.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("observability shutdown failed", "error", err)
	}
}
