package domain

import "time"

// Session is one bounded attendance window tied to one tablet. QRSecret is
// the per-session HMAC key: it is handed to the authenticated kiosk display
// once at session start and never reaches students.
type Session struct {
	ID        string  `gorm:"primaryKey;size:36" json:"id"`
	TabletID  string  `gorm:"size:36;index;not null" json:"tablet_id"`
	TeacherID *string `gorm:"size:36;index" json:"teacher_id,omitempty"`
	// Denormalized so history survives teacher deletion.
	TeacherName   string     `gorm:"size:200;not null" json:"teacher_name"`
	Discipline    string     `gorm:"size:300;not null" json:"discipline"`
	QRSecret      string     `gorm:"size:64;not null" json:"-"`
	RotateSeconds int        `gorm:"not null;default:5" json:"rotate_seconds"`
	StartedAt     time.Time  `gorm:"index;not null" json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	IsActive      bool       `gorm:"index;not null;default:true" json:"is_active"`

	Attendances []Attendance `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// Age reports how long the session has been open at the given instant.
func (s *Session) Age(now time.Time) time.Duration { return now.Sub(s.StartedAt) }
