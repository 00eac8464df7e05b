package domain

import "time"

// Tablet is a classroom kiosk display. A record is created on the device's
// first contact (self-registration) and becomes usable for sessions once an
// administrator assigns it to a room.
type Tablet struct {
	ID string `gorm:"primaryKey;size:36" json:"id"`
	// Shown on an unregistered kiosk screen; an admin enters it to identify
	// the device during room assignment.
	RegPIN string `gorm:"size:6;uniqueIndex;not null" json:"-"`
	// Shown on a registered, waiting kiosk screen; a teacher enters it to
	// start a session. Also authenticates the display when it fetches the
	// session state, so the qr_secret is only released to the real kiosk.
	DisplayPIN   string     `gorm:"size:6;uniqueIndex;not null" json:"-"`
	BuildingID   *int       `json:"building_id,omitempty"`
	BuildingName *string    `gorm:"size:200" json:"building_name,omitempty"`
	RoomID       *int       `json:"room_id,omitempty"`
	RoomName     *string    `gorm:"size:100" json:"room_name,omitempty"`
	AssignedAt   *time.Time `json:"assigned_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`

	Sessions []Session `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

func (t *Tablet) IsRegistered() bool { return t.RoomID != nil }

// RoomAssignment is what an admin binds to a tablet out-of-band.
type RoomAssignment struct {
	BuildingID   int    `json:"building_id"`
	BuildingName string `json:"building_name"`
	RoomID       int    `json:"room_id"`
	RoomName     string `json:"room_name"`
}
