package repository

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/polytech-platform/traffic-attendance-service/internal/domain"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDBForTest(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// sqlite shared-cache handles one writer at a time; a single pooled
	// connection keeps concurrent test inserts from tripping SQLITE_LOCKED.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&domain.Tablet{}, &domain.Session{}, &domain.Attendance{}, &domain.Teacher{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestSession(id, tabletID string) *domain.Session {
	return &domain.Session{
		ID:            id,
		TabletID:      tabletID,
		TeacherName:   "Test Teacher",
		Discipline:    "Distributed Systems",
		QRSecret:      "secret-" + id,
		RotateSeconds: 5,
		StartedAt:     time.Now().UTC(),
		IsActive:      true,
	}
}

func strPtr(v string) *string { return &v }
