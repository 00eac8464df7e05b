package domain

import "time"

// Attendance is one student's check-in against one session. The composite
// unique index is the source of truth for idempotency: a second insert for
// the same (session, student) pair must hit the constraint, never create a
// second row.
type Attendance struct {
	ID                string    `gorm:"primaryKey;size:36" json:"id"`
	SessionID         string    `gorm:"size:36;not null;uniqueIndex:uq_session_student" json:"session_id"`
	StudentExternalID string    `gorm:"size:100;not null;uniqueIndex:uq_session_student" json:"student_external_id"`
	StudentName       string    `gorm:"size:200;not null" json:"student_name"`
	StudentEmail      string    `gorm:"size:200;not null" json:"student_email"`
	MarkedAt          time.Time `gorm:"index;not null" json:"marked_at"`
}
