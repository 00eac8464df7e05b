package service

import (
	"context"
	"testing"
	"time"
)

func TestOpenRequiresRegisteredTablet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tablet, err := f.tabletSvc.Init(ctx)
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	_, err = f.sessionSvc.Open(ctx, OpenSessionInput{TabletID: tablet.ID, TeacherName: "Prof. Ada", Discipline: "Algorithms"})
	if err != ErrTabletNotRegistered {
		t.Fatalf("expected ErrTabletNotRegistered, got %v", err)
	}

	_, err = f.sessionSvc.Open(ctx, OpenSessionInput{TabletID: "no-such-tablet", TeacherName: "Prof. Ada", Discipline: "Algorithms"})
	if err != ErrTabletNotFound {
		t.Fatalf("expected ErrTabletNotFound, got %v", err)
	}
}

func TestOpenDisplacesPreviousSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tablet := f.registeredTablet(t)

	first, err := f.sessionSvc.Open(ctx, OpenSessionInput{TabletID: tablet.ID, TeacherName: "Prof. Ada", Discipline: "Algorithms"})
	if err != nil {
		t.Fatalf("open first: %v", err)
	}
	second, err := f.sessionSvc.Open(ctx, OpenSessionInput{TabletID: tablet.ID, TeacherName: "Prof. Grace", Discipline: "Compilers"})
	if err != nil {
		t.Fatalf("open second: %v", err)
	}

	got, err := f.sessionSvc.ActiveForTablet(ctx, tablet.ID)
	if err != nil {
		t.Fatalf("active lookup: %v", err)
	}
	if got.ID != second.ID {
		t.Fatalf("expected active session %s, got %s", second.ID, got.ID)
	}

	stale, err := f.sessionSvc.Get(ctx, first.ID, AdminActor)
	if err != nil {
		t.Fatalf("get first: %v", err)
	}
	if stale.IsActive {
		t.Fatal("expected first session to be closed after displacement")
	}
	if first.QRSecret == second.QRSecret {
		t.Fatal("expected each session to get its own secret")
	}
}

func TestOpenRejectPolicyRefusesBusyTablet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tablet := f.registeredTablet(t)
	svc := NewSessionService(f.sessions, f.tablets, 5, 90*time.Minute, OpenPolicyReject, NopNotifier{}, quietLogger())

	first, err := svc.Open(ctx, OpenSessionInput{TabletID: tablet.ID, TeacherName: "Prof. Ada", Discipline: "Algorithms"})
	if err != nil {
		t.Fatalf("open first: %v", err)
	}
	if _, err := svc.Open(ctx, OpenSessionInput{TabletID: tablet.ID, TeacherName: "Prof. Grace", Discipline: "Compilers"}); err != ErrSessionConflict {
		t.Fatalf("expected ErrSessionConflict on busy tablet, got %v", err)
	}

	active, err := svc.ActiveForTablet(ctx, tablet.ID)
	if err != nil {
		t.Fatalf("active lookup: %v", err)
	}
	if active.ID != first.ID {
		t.Fatalf("expected first session to survive the rejected open, got %s", active.ID)
	}

	// A session past its maximum age does not count as busy.
	svc.now = func() time.Time { return first.StartedAt.Add(91 * time.Minute) }
	second, err := svc.Open(ctx, OpenSessionInput{TabletID: tablet.ID, TeacherName: "Prof. Grace", Discipline: "Compilers"})
	if err != nil {
		t.Fatalf("open after expiry: %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("expected a fresh session after the stale one expired")
	}
}

func TestSessionAccessScopedToOwningTeacher(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tablet := f.registeredTablet(t)

	owner := "teacher-1"
	session, err := f.sessionSvc.Open(ctx, OpenSessionInput{TabletID: tablet.ID, TeacherID: &owner, TeacherName: "Prof. Ada", Discipline: "Algorithms"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if _, err := f.sessionSvc.Get(ctx, session.ID, "teacher-2"); err != ErrSessionNotFound {
		t.Fatalf("expected foreign get to read as not found, got %v", err)
	}
	if _, err := f.sessionSvc.Close(ctx, session.ID, "teacher-2"); err != ErrSessionNotFound {
		t.Fatalf("expected foreign close to read as not found, got %v", err)
	}

	got, err := f.sessionSvc.Get(ctx, session.ID, owner)
	if err != nil {
		t.Fatalf("owner get: %v", err)
	}
	if !got.IsActive {
		t.Fatal("expected session to survive the rejected foreign close")
	}

	if _, err := f.sessionSvc.Get(ctx, session.ID, AdminActor); err != nil {
		t.Fatalf("admin get: %v", err)
	}
	closed, err := f.sessionSvc.Close(ctx, session.ID, AdminActor)
	if err != nil {
		t.Fatalf("admin close: %v", err)
	}
	if closed.IsActive {
		t.Fatal("expected admin close to end the session")
	}
}

func TestAdminOpenedSessionHiddenFromTeachers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tablet := f.registeredTablet(t)

	session, err := f.sessionSvc.Open(ctx, OpenSessionInput{TabletID: tablet.ID, TeacherName: "Operator", Discipline: "Algorithms"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if _, err := f.sessionSvc.Get(ctx, session.ID, "teacher-1"); err != ErrSessionNotFound {
		t.Fatalf("expected teacher to be unable to see an unowned session, got %v", err)
	}
	if _, err := f.sessionSvc.Get(ctx, session.ID, AdminActor); err != nil {
		t.Fatalf("admin get: %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tablet := f.registeredTablet(t)

	session, err := f.sessionSvc.Open(ctx, OpenSessionInput{TabletID: tablet.ID, TeacherName: "Prof. Ada", Discipline: "Algorithms"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	closed, err := f.sessionSvc.Close(ctx, session.ID, AdminActor)
	if err != nil {
		t.Fatalf("first close: %v", err)
	}
	if closed.IsActive || closed.EndedAt == nil {
		t.Fatalf("expected closed session, got %+v", closed)
	}
	firstEnd := *closed.EndedAt

	again, err := f.sessionSvc.Close(ctx, session.ID, AdminActor)
	if err != nil {
		t.Fatalf("second close: %v", err)
	}
	if again.EndedAt == nil || !again.EndedAt.Equal(firstEnd) {
		t.Fatalf("expected second close to leave ended_at at %v, got %v", firstEnd, again.EndedAt)
	}

	if _, err := f.sessionSvc.Close(ctx, "no-such-session", AdminActor); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestActiveForTabletExpiresStaleSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tablet := f.registeredTablet(t)

	session, err := f.sessionSvc.Open(ctx, OpenSessionInput{TabletID: tablet.ID, TeacherName: "Prof. Ada", Discipline: "Algorithms"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	// Jump the service clock past the maximum session age.
	f.sessionSvc.now = func() time.Time { return session.StartedAt.Add(91 * time.Minute) }

	if _, err := f.sessionSvc.ActiveForTablet(ctx, tablet.ID); err != ErrSessionNotFound {
		t.Fatalf("expected expired session to be reported absent, got %v", err)
	}

	stored, err := f.sessionSvc.Get(ctx, session.ID, AdminActor)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.IsActive {
		t.Fatal("expected stale session to be closed in storage")
	}
}

func TestListForTeacherScopesByTablet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tabletA := f.registeredTablet(t)

	tabletB, err := f.tabletSvc.Init(ctx)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	teacherID := "teacher-1"

	if _, err := f.sessionSvc.Open(ctx, OpenSessionInput{TabletID: tabletA.ID, TeacherID: &teacherID, TeacherName: "Prof. Ada", Discipline: "Algorithms"}); err != nil {
		t.Fatalf("open: %v", err)
	}

	sessions, err := f.sessionSvc.ListForTeacher(ctx, teacherID, tabletA.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected one session for tablet A, got %d", len(sessions))
	}

	sessions, err = f.sessionSvc.ListForTeacher(ctx, teacherID, tabletB.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no sessions for tablet B, got %d", len(sessions))
	}
}
