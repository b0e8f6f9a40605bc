package model

import (
	"encoding/base64"
	"time"
)

// User is the credential used for one server. At most one exists per BaseURL.
type User struct {
	BaseURL   string `gorm:"primaryKey;size:512"`
	Username  string `gorm:"size:128"`
	Password  string `gorm:"size:256"`
	Token     string `gorm:"size:256"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AuthorizationHeader returns the Authorization header value for the user,
// preferring a bearer token over basic credentials.
func (u *User) AuthorizationHeader() string {
	if u == nil {
		return ""
	}
	if u.Token != "" {
		return "Bearer " + u.Token
	}
	if u.Username != "" {
		return BasicAuth(u.Username, u.Password)
	}
	return ""
}

// BasicAuth encodes a basic Authorization header value.
func BasicAuth(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

// Pref is a flat key/value preference.
type Pref struct {
	Key   string `gorm:"column:pref_key;primaryKey;size:128"`
	Value string `gorm:"not null"`
}
