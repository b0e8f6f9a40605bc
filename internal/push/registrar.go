// Package push registers this device's web push subscription with servers so
// that background-mode topics are delivered by the server's push path.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"notify-sync-client/config"
	"notify-sync-client/internal/errs"
	"notify-sync-client/internal/model"
	"notify-sync-client/internal/topic"
)

// Registrar keeps a server's set of background topics for this device in sync.
type Registrar interface {
	// Update replaces the topics registered on baseURL. An empty list removes
	// the registration.
	Update(ctx context.Context, baseURL string, topics []string) error
}

// UserLookup returns the credential stored for a server.
type UserLookup interface {
	GetUser(ctx context.Context, baseURL string) (*model.User, error)
}

// ErrNotConfigured is returned when no device push subscription is configured.
var ErrNotConfigured = errors.New("web push subscription is not configured")

type updateRequest struct {
	Endpoint string   `json:"endpoint"`
	Auth     string   `json:"auth,omitempty"`
	P256DH   string   `json:"p256dh,omitempty"`
	Topics   []string `json:"topics,omitempty"`
}

// WebPushRegistrar talks to the server's /v1/webpush endpoint.
type WebPushRegistrar struct {
	subscription *webpush.Subscription
	users        UserLookup
	client       *http.Client
}

// NewWebPushRegistrar creates a registrar for the device subscription in cfg.
func NewWebPushRegistrar(cfg config.PushConfig, users UserLookup) *WebPushRegistrar {
	r := &WebPushRegistrar{
		users:  users,
		client: &http.Client{Timeout: 30 * time.Second},
	}
	if cfg.Endpoint != "" {
		r.subscription = &webpush.Subscription{
			Endpoint: cfg.Endpoint,
			Keys:     webpush.Keys{P256dh: cfg.P256DH, Auth: cfg.Auth},
		}
	}
	return r
}

// Update registers or removes the device's topics on baseURL.
func (r *WebPushRegistrar) Update(ctx context.Context, baseURL string, topics []string) error {
	const op = "push.update"
	if r.subscription == nil {
		return errs.E(errs.Validation, op, ErrNotConfigured)
	}

	method := http.MethodPut
	body := updateRequest{
		Endpoint: r.subscription.Endpoint,
		Auth:     r.subscription.Keys.Auth,
		P256DH:   r.subscription.Keys.P256dh,
		Topics:   topics,
	}
	if len(topics) == 0 {
		method = http.MethodDelete
		body = updateRequest{Endpoint: r.subscription.Endpoint}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return errs.E(errs.Unknown, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, topic.NormalizeBaseURL(baseURL)+"/v1/webpush", bytes.NewReader(jsonBody))
	if err != nil {
		return errs.E(errs.Validation, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if user, err := r.users.GetUser(ctx, baseURL); err == nil {
		if auth := user.AuthorizationHeader(); auth != "" {
			req.Header.Set("Authorization", auth)
		}
	} else if !errs.Is(err, errs.NotFound) {
		return err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return errs.E(errs.Network, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errs.E(errs.FromStatus(resp.StatusCode), op, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return nil
}
