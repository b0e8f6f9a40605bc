package model

import (
	"strconv"
	"time"
)

// NotificationType selects how notifications of a subscription reach the user.
type NotificationType string

const (
	NotificationSound      NotificationType = "sound"
	NotificationForeground NotificationType = "foreground"
	NotificationBackground NotificationType = "background"
)

// Valid reports whether t is a recognized notification type.
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationSound, NotificationForeground, NotificationBackground:
		return true
	}
	return false
}

// ConnectionState is the last known state of a subscription's stream.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
)

// MutedIndefinitely is the MutedUntil sentinel for "muted until unmuted".
const MutedIndefinitely int64 = 1

// Reservation is the server-side claim on a topic tied to the signed-in account.
type Reservation struct {
	Topic    string `json:"topic"`
	Everyone string `json:"everyone"`
}

// Subscription is the local record of interest in one topic on one server.
type Subscription struct {
	ID               string           `gorm:"primaryKey;size:64"`
	BaseURL          string           `gorm:"index;size:512;not null"`
	Topic            string           `gorm:"size:64;not null"`
	LastID           string           `gorm:"size:64"`
	LastTime         int64            `gorm:"not null;default:0"`
	MutedUntil       int64            `gorm:"not null;default:0"`
	DisplayName      *string          `gorm:"size:256"`
	NotificationType NotificationType `gorm:"size:16;not null"`
	Reservation      *Reservation     `gorm:"serializer:json"`
	State            ConnectionState  `gorm:"size:16"`
	Internal         bool             `gorm:"not null;default:false"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Since returns the resume cursor sent to the server: the last event id,
// falling back to the last event time, or "all" when nothing was seen yet.
func (s *Subscription) Since() string {
	if s.LastID != "" {
		return s.LastID
	}
	if s.LastTime > 0 {
		return strconv.FormatInt(s.LastTime, 10)
	}
	return "all"
}

// Muted reports whether the subscription is muted at the given time.
func (s *Subscription) Muted(now time.Time) bool {
	if s.MutedUntil == 0 {
		return false
	}
	if s.MutedUntil == MutedIndefinitely {
		return true
	}
	return s.MutedUntil > now.Unix()
}

// RemoteSubscription is a subscription as listed by the remote account.
type RemoteSubscription struct {
	BaseURL     string  `json:"base_url"`
	Topic       string  `json:"topic"`
	DisplayName *string `json:"display_name"`
}
