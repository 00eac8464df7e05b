package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/polytech-platform/traffic-attendance-service/internal/domain"
	"github.com/polytech-platform/traffic-attendance-service/internal/repository"
)

func newDBForTest(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
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
	// Keeps concurrent inserts from tripping SQLITE_LOCKED in shared-cache mode.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&domain.Tablet{}, &domain.Session{}, &domain.Attendance{}, &domain.Teacher{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testFixture struct {
	db          *gorm.DB
	tablets     repository.TabletRepository
	sessions    repository.SessionRepository
	attendances repository.AttendanceRepository
	teachers    repository.TeacherRepository

	tabletSvc     *TabletService
	sessionSvc    *SessionService
	attendanceSvc *AttendanceService
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()

	db := newDBForTest(t)
	f := &testFixture{
		db:          db,
		tablets:     repository.NewTabletRepository(db),
		sessions:    repository.NewSessionRepository(db),
		attendances: repository.NewAttendanceRepository(db),
		teachers:    repository.NewTeacherRepository(db),
	}
	logger := quietLogger()
	f.tabletSvc = NewTabletService(f.tablets, f.sessions, NewInMemoryPINLookupCache(), NopNotifier{}, logger)
	f.sessionSvc = NewSessionService(f.sessions, f.tablets, 5, 90*time.Minute, OpenPolicyDisplace, NopNotifier{}, logger)
	f.attendanceSvc = NewAttendanceService(f.attendances, f.sessions, 90*time.Minute, NopNotifier{}, logger)
	return f
}

// registeredTablet provisions a tablet and binds it to a room so that
// sessions can open on it.
func (f *testFixture) registeredTablet(t *testing.T) *domain.Tablet {
	t.Helper()

	ctx := context.Background()
	tablet, err := f.tabletSvc.Init(ctx)
	if err != nil {
		t.Fatalf("init tablet: %v", err)
	}
	tablet, err = f.tabletSvc.Register(ctx, tablet.RegPIN, domain.RoomAssignment{
		BuildingID:   1,
		BuildingName: "Main Building",
		RoomID:       101,
		RoomName:     "Lecture Hall 101",
	})
	if err != nil {
		t.Fatalf("register tablet: %v", err)
	}
	return tablet
}
