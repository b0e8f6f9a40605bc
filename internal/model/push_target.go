package model

import "time"

// PushTarget holds a browser push subscription that receives notifications
// forwarded by this client.
type PushTarget struct {
	Endpoint  string    `gorm:"primaryKey"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}
