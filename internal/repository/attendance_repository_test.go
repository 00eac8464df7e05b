package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/polytech-platform/traffic-attendance-service/internal/domain"

	"github.com/google/uuid"
)

func newTestAttendance(sessionID, studentID string) *domain.Attendance {
	return &domain.Attendance{
		ID:                uuid.NewString(),
		SessionID:         sessionID,
		StudentExternalID: studentID,
		StudentName:       "Student " + studentID,
		StudentEmail:      studentID + "@example.edu",
		MarkedAt:          time.Now().UTC(),
	}
}

func TestAttendanceInsertIsIdempotent(t *testing.T) {
	db := newDBForTest(t)
	repo := NewAttendanceRepository(db)
	ctx := context.Background()

	first := newTestAttendance("sess-1", "stu-1")
	created, err := repo.Insert(ctx, first)
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if !created {
		t.Fatal("expected created=true on first insert")
	}

	dup := newTestAttendance("sess-1", "stu-1")
	dup.MarkedAt = first.MarkedAt.Add(time.Minute)
	created, err = repo.Insert(ctx, dup)
	if err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}
	if created {
		t.Fatal("expected created=false on duplicate insert")
	}

	rows, err := repo.ListBySession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected exactly one row, got %d", len(rows))
	}
	// First write wins; the duplicate's later timestamp must not overwrite.
	if !rows[0].MarkedAt.Equal(first.MarkedAt) {
		t.Fatalf("expected original mark time %v, got %v", first.MarkedAt, rows[0].MarkedAt)
	}
}

func TestAttendanceInsertSameStudentDifferentSessions(t *testing.T) {
	db := newDBForTest(t)
	repo := NewAttendanceRepository(db)
	ctx := context.Background()

	if created, err := repo.Insert(ctx, newTestAttendance("sess-1", "stu-1")); err != nil || !created {
		t.Fatalf("insert sess-1: created=%v err=%v", created, err)
	}
	if created, err := repo.Insert(ctx, newTestAttendance("sess-2", "stu-1")); err != nil || !created {
		t.Fatalf("insert sess-2: created=%v err=%v", created, err)
	}
}

func TestAttendanceConcurrentInsertSingleWinner(t *testing.T) {
	db := newDBForTest(t)
	repo := NewAttendanceRepository(db)
	ctx := context.Background()

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan bool, attempts)
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := repo.Insert(ctx, newTestAttendance("sess-1", "stu-1"))
			if err != nil {
				errs <- err
				return
			}
			results <- created
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent insert errored: %v", err)
	}
	var wins int
	for created := range results {
		if created {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning insert, got %d", wins)
	}

	rows, err := repo.ListBySession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one row after concurrent inserts, got %d", len(rows))
	}
}

func TestAttendanceFindBySessionAndStudent(t *testing.T) {
	db := newDBForTest(t)
	repo := NewAttendanceRepository(db)
	ctx := context.Background()

	want := newTestAttendance("sess-1", "stu-1")
	if _, err := repo.Insert(ctx, want); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := repo.FindBySessionAndStudent(ctx, "sess-1", "stu-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ID != want.ID {
		t.Fatalf("expected row %s, got %s", want.ID, got.ID)
	}

	if _, err := repo.FindBySessionAndStudent(ctx, "sess-1", "stu-ghost"); err != ErrAttendanceNotFound {
		t.Fatalf("expected ErrAttendanceNotFound, got %v", err)
	}
}

func TestAttendanceListOrderedByMarkTime(t *testing.T) {
	db := newDBForTest(t)
	repo := NewAttendanceRepository(db)
	ctx := context.Background()

	late := newTestAttendance("sess-1", "stu-late")
	late.MarkedAt = time.Now().UTC()
	early := newTestAttendance("sess-1", "stu-early")
	early.MarkedAt = late.MarkedAt.Add(-time.Minute)

	if _, err := repo.Insert(ctx, late); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := repo.Insert(ctx, early); err != nil {
		t.Fatalf("insert: %v", err)
	}

	rows, err := repo.ListBySession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 || rows[0].StudentExternalID != "stu-early" {
		t.Fatalf("expected mark-time order, got %+v", rows)
	}

	count, err := repo.CountBySession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}
}
