package domain

import "time"

type Teacher struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Username     string    `gorm:"size:100;uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"size:200;not null" json:"-"`
	FullName     string    `gorm:"size:200;not null" json:"full_name"`
	CreatedAt    time.Time `json:"created_at"`

	Sessions []Session `gorm:"foreignKey:TeacherID" json:"-"`
}
