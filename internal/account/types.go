package account

import "notify-sync-client/internal/model"

// Account is the signed-in user's server-side state.
type Account struct {
	Username      string                     `json:"username"`
	Role          string                     `json:"role,omitempty"`
	SyncTopic     string                     `json:"sync_topic,omitempty"`
	Language      string                     `json:"language,omitempty"`
	Notification  *NotificationPrefs         `json:"notification,omitempty"`
	Subscriptions []model.RemoteSubscription `json:"subscriptions,omitempty"`
	Reservations  []model.Reservation        `json:"reservations,omitempty"`
	Tier          *Tier                      `json:"tier,omitempty"`
	Limits        *Limits                    `json:"limits,omitempty"`
	Stats         *Stats                     `json:"stats,omitempty"`
	Billing       *Billing                   `json:"billing,omitempty"`
}

// NotificationPrefs are the notification settings synced with the account.
// Nil fields are unset.
type NotificationPrefs struct {
	Sound       *string `json:"sound,omitempty"`
	MinPriority *int    `json:"min_priority,omitempty"`
	DeleteAfter *int64  `json:"delete_after,omitempty"`
}

type Tier struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type Limits struct {
	Basis        string `json:"basis,omitempty"`
	Messages     int64  `json:"messages"`
	Reservations int64  `json:"reservations"`
	Emails       int64  `json:"emails"`
	Calls        int64  `json:"calls"`
}

type Stats struct {
	Messages          int64 `json:"messages"`
	MessagesRemaining int64 `json:"messages_remaining"`
	Emails            int64 `json:"emails"`
	EmailsRemaining   int64 `json:"emails_remaining"`
}

type Billing struct {
	Customer     bool   `json:"customer"`
	Subscription bool   `json:"subscription"`
	Status       string `json:"status,omitempty"`
	Interval     string `json:"interval,omitempty"`
	PaidUntil    int64  `json:"paid_until,omitempty"`
	CancelAt     int64  `json:"cancel_at,omitempty"`
}

// Settings is the body of a settings update.
type Settings struct {
	Language     string             `json:"language,omitempty"`
	Notification *NotificationPrefs `json:"notification,omitempty"`
}

// BillingRequest selects a tier for a billing subscription.
type BillingRequest struct {
	Tier     string `json:"tier"`
	Interval string `json:"interval,omitempty"`
}

// BillingResponse carries the checkout page for a new billing subscription.
type BillingResponse struct {
	RedirectURL string `json:"redirect_url"`
}

type tokenResponse struct {
	Token   string `json:"token"`
	Expires int64  `json:"expires,omitempty"`
}
