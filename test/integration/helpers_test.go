package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/polytech-platform/traffic-attendance-service/internal/domain"
	"github.com/polytech-platform/traffic-attendance-service/internal/health"
	"github.com/polytech-platform/traffic-attendance-service/internal/http/handler"
	"github.com/polytech-platform/traffic-attendance-service/internal/http/middleware"
	"github.com/polytech-platform/traffic-attendance-service/internal/http/router"
	"github.com/polytech-platform/traffic-attendance-service/internal/realtime"
	"github.com/polytech-platform/traffic-attendance-service/internal/repository"
	"github.com/polytech-platform/traffic-attendance-service/internal/security"
	"github.com/polytech-platform/traffic-attendance-service/internal/service"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// serverFixture is one backend instance on a live listener, with direct
// handles on the services for test setup shortcuts.
type serverFixture struct {
	baseURL string
	client  *http.Client

	jwt           *security.JWTManager
	hub           *realtime.Hub
	tabletSvc     *service.TabletService
	sessionSvc    *service.SessionService
	attendanceSvc *service.AttendanceService
	authSvc       *service.AuthService
}

type fixtureOptions struct {
	pinLookupRPM int
	limiter      middleware.Limiter
	pinCache     service.PINLookupCache
	notifier     service.Notifier
	db           *gorm.DB
	readiness    *health.ProbeRunner
}

func newTestDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&domain.Tablet{}, &domain.Session{}, &domain.Attendance{}, &domain.Teacher{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newAttendanceTestServer(t *testing.T, opts fixtureOptions) *serverFixture {
	t.Helper()

	db := opts.db
	if db == nil {
		db = newTestDB(t, t.Name())
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	jwtMgr := security.NewJWTManager("traffic-test", "staff-secret", "launch-secret", time.Hour)
	hub := realtime.NewHub(time.Minute, logger)
	t.Cleanup(hub.Stop)

	pinCache := opts.pinCache
	if pinCache == nil {
		pinCache = service.NewInMemoryPINLookupCache()
	}
	var notifier service.Notifier = hub
	if opts.notifier != nil {
		notifier = opts.notifier
	}
	pinLookupRPM := opts.pinLookupRPM
	if pinLookupRPM == 0 {
		pinLookupRPM = 10000
	}

	tablets := repository.NewTabletRepository(db)
	sessions := repository.NewSessionRepository(db)
	attendances := repository.NewAttendanceRepository(db)
	teachers := repository.NewTeacherRepository(db)

	f := &serverFixture{
		jwt:           jwtMgr,
		hub:           hub,
		tabletSvc:     service.NewTabletService(tablets, sessions, pinCache, notifier, logger),
		sessionSvc:    service.NewSessionService(sessions, tablets, 5, 90*time.Minute, service.OpenPolicyDisplace, notifier, logger),
		attendanceSvc: service.NewAttendanceService(attendances, sessions, 90*time.Minute, notifier, logger),
		authSvc:       service.NewAuthService(teachers, jwtMgr, "admin", "operator-pass", logger),
	}

	mux := router.NewRouter(router.Dependencies{
		AuthHandler:           handler.NewAuthHandler(f.authSvc),
		SessionHandler:        handler.NewSessionHandler(f.sessionSvc, f.attendanceSvc, f.tabletSvc),
		TabletHandler:         handler.NewTabletHandler(f.tabletSvc, f.sessionSvc, hub, 100*time.Millisecond),
		JWTManager:            jwtMgr,
		CORSOrigins:           []string{"*"},
		APIRateLimitRPM:       10000,
		PINLookupRateLimitRPM: pinLookupRPM,
		AttendRateLimitRPM:    10000,
		RateLimitBackend:      opts.limiter,
		Readiness:             opts.readiness,
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	f.baseURL = server.URL
	f.client = server.Client()
	return f
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope from %s %s: %v", method, url, err)
	}
	return resp, env
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

// registeredTablet provisions and registers a tablet through the services.
func (f *serverFixture) registeredTablet(t *testing.T) *domain.Tablet {
	t.Helper()
	ctx := context.Background()
	tablet, err := f.tabletSvc.Init(ctx)
	if err != nil {
		t.Fatalf("init tablet: %v", err)
	}
	tablet, err = f.tabletSvc.Register(ctx, tablet.RegPIN, domain.RoomAssignment{
		BuildingID: 2, BuildingName: "East Wing", RoomID: 204, RoomName: "Lab 204",
	})
	if err != nil {
		t.Fatalf("register tablet: %v", err)
	}
	return tablet
}

func (f *serverFixture) teacherToken(t *testing.T) string {
	t.Helper()
	if _, err := f.authSvc.CreateTeacher(context.Background(), "teacher", "long-enough-pass", "Prof. Grace"); err != nil {
		t.Fatalf("create teacher: %v", err)
	}
	resp, env := doJSON(t, f.client, http.MethodPost, f.baseURL+"/api/v1/auth/teacher/login",
		map[string]string{"username": "teacher", "password": "long-enough-pass"}, nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("teacher login: status=%d success=%v", resp.StatusCode, env.Success)
	}
	var data struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode login payload: %v", err)
	}
	return data.Token
}

func (f *serverFixture) launchToken(t *testing.T, studentID, name string) string {
	t.Helper()
	token, err := f.jwt.SignLaunchToken(security.LaunchIdentity{
		StudentExternalID: studentID,
		StudentName:       name,
		StudentEmail:      studentID + "@example.edu",
	}, time.Minute)
	if err != nil {
		t.Fatalf("sign launch token: %v", err)
	}
	return token
}
