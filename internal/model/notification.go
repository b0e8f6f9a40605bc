package model

// Attachment describes a file attached to a notification.
type Attachment struct {
	Name    string `json:"name"`
	Type    string `json:"type,omitempty"`
	Size    int64  `json:"size,omitempty"`
	Expires int64  `json:"expires,omitempty"`
	URL     string `json:"url"`
}

// Action is a structured follow-up operation offered with a notification.
type Action struct {
	ID      string            `json:"id"`
	Action  string            `json:"action"`
	Label   string            `json:"label"`
	Clear   bool              `json:"clear,omitempty"`
	URL     string            `json:"url,omitempty"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// Notification is a stored event. At most one row exists per ID.
type Notification struct {
	ID             string      `gorm:"primaryKey;size:64" json:"id"`
	SubscriptionID string      `gorm:"size:64;not null;index;index:idx_notifications_subscription_new,priority:1" json:"subscription_id"`
	Time           int64       `gorm:"not null;index" json:"time"`
	Expires        int64       `json:"expires,omitempty"`
	Title          string      `json:"title,omitempty"`
	Message        string      `gorm:"not null" json:"message"`
	Priority       int         `gorm:"not null" json:"priority"`
	Tags           []string    `gorm:"serializer:json" json:"tags,omitempty"`
	Click          string      `json:"click,omitempty"`
	Icon           string      `json:"icon,omitempty"`
	Attachment     *Attachment `gorm:"serializer:json" json:"attachment,omitempty"`
	Actions        []Action    `gorm:"serializer:json" json:"actions,omitempty"`
	New            bool        `gorm:"column:is_new;not null;index:idx_notifications_subscription_new,priority:2" json:"new"`
}
