// Package subscription is the only mutator of subscriptions and
// notifications in the local store.
package subscription

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"notify-sync-client/internal/errs"
	"notify-sync-client/internal/model"
	"notify-sync-client/internal/push"
	"notify-sync-client/internal/store"
	"notify-sync-client/internal/topic"
)

// DefaultNotificationType is used for new subscriptions that do not name one.
const DefaultNotificationType = model.NotificationSound

// Options are the recognized settings for Add. Zero values mean "not provided".
type Options struct {
	NotificationType model.NotificationType
	DisplayName      *string
	Internal         bool
}

// Summary is a subscription together with its unread count.
type Summary struct {
	model.Subscription
	NewCount int64 `json:"new_count"`
}

// Manager enforces the subscription and notification invariants.
type Manager struct {
	store          store.Store
	push           push.Registrar
	defaultBaseURL string
	logger         *zap.SugaredLogger
}

// NewManager creates a new subscription manager. registrar may be nil, in
// which case background mode cannot be selected.
func NewManager(s store.Store, registrar push.Registrar, defaultBaseURL string, logger *zap.SugaredLogger) *Manager {
	return &Manager{
		store:          s,
		push:           registrar,
		defaultBaseURL: topic.NormalizeBaseURL(defaultBaseURL),
		logger:         logger,
	}
}

// DefaultBaseURL is the server used when a caller gives none.
func (m *Manager) DefaultBaseURL() string {
	return m.defaultBaseURL
}

// Add subscribes to name on baseURL. It is idempotent: an existing
// subscription is returned with any provided options merged in.
func (m *Manager) Add(ctx context.Context, baseURL, name string, opts Options) (*model.Subscription, error) {
	const op = "subscription.add"

	baseURL = topic.NormalizeBaseURL(baseURL)
	if !topic.ValidBaseURL(baseURL) {
		return nil, errs.Errorf(errs.Validation, op, "invalid server address %q", baseURL)
	}
	if !topic.Valid(name) {
		return nil, errs.Errorf(errs.Validation, op, "invalid topic name %q", name)
	}
	if opts.NotificationType != "" && !opts.NotificationType.Valid() {
		return nil, errs.Errorf(errs.Validation, op, "unknown notification type %q", opts.NotificationType)
	}

	id := topic.SubscriptionID(baseURL, name)
	existing, err := m.store.GetSubscription(ctx, id)
	switch {
	case err == nil:
		return m.merge(ctx, existing, opts)
	case !errs.Is(err, errs.NotFound):
		return nil, err
	}

	sub := &model.Subscription{
		ID:               id,
		BaseURL:          baseURL,
		Topic:            name,
		NotificationType: opts.NotificationType,
		DisplayName:      opts.DisplayName,
		Internal:         opts.Internal,
		State:            model.StateDisconnected,
	}
	if sub.NotificationType == "" {
		sub.NotificationType = DefaultNotificationType
	}

	// Registration happens first so a failure leaves nothing behind.
	if sub.NotificationType == model.NotificationBackground {
		if err := m.registerBackground(ctx, baseURL, name, ""); err != nil {
			return nil, err
		}
	}

	if err := m.store.SaveSubscription(ctx, sub); err != nil {
		return nil, err
	}
	m.logger.Infow("subscription added", "id", id, "base_url", baseURL, "topic", name, "type", sub.NotificationType)
	return sub, nil
}

func (m *Manager) merge(ctx context.Context, existing *model.Subscription, opts Options) (*model.Subscription, error) {
	typeChanged := opts.NotificationType != "" && opts.NotificationType != existing.NotificationType
	if opts.DisplayName == nil && !typeChanged {
		return existing, nil
	}

	if typeChanged {
		var err error
		if opts.NotificationType == model.NotificationBackground {
			err = m.registerBackground(ctx, existing.BaseURL, existing.Topic, "")
		} else if existing.NotificationType == model.NotificationBackground {
			err = m.registerBackground(ctx, existing.BaseURL, "", existing.ID)
		}
		if err != nil {
			return nil, err
		}
	}

	return m.store.UpdateSubscription(ctx, existing.ID, func(sub *model.Subscription) error {
		if opts.DisplayName != nil {
			sub.DisplayName = normalizeDisplayName(opts.DisplayName)
		}
		if typeChanged {
			sub.NotificationType = opts.NotificationType
		}
		return nil
	})
}

// registerBackground replaces the server's background topic list with the
// current background subscriptions on baseURL, plus include and minus the
// subscription with id exclude.
func (m *Manager) registerBackground(ctx context.Context, baseURL, include, exclude string) error {
	if m.push == nil {
		return errs.E(errs.Validation, "subscription.push", push.ErrNotConfigured)
	}

	subs, err := m.store.ListSubscriptionsByBaseURL(ctx, baseURL)
	if err != nil {
		return err
	}
	var topics []string
	for _, s := range subs {
		if s.ID == exclude || s.NotificationType != model.NotificationBackground || s.Topic == include {
			continue
		}
		topics = append(topics, s.Topic)
	}
	if include != "" {
		topics = append(topics, include)
	}
	return m.push.Update(ctx, baseURL, topics)
}

// Remove deletes the subscription and its notifications.
func (m *Manager) Remove(ctx context.Context, id string) error {
	sub, err := m.store.GetSubscription(ctx, id)
	if err != nil {
		return err
	}
	if err := m.store.DeleteSubscription(ctx, id); err != nil {
		return err
	}
	m.logger.Infow("subscription removed", "id", id, "base_url", sub.BaseURL, "topic", sub.Topic)

	if sub.NotificationType == model.NotificationBackground {
		if err := m.registerBackground(ctx, sub.BaseURL, "", id); err != nil {
			m.logger.Warnw("failed to update push registration after remove", "id", id, "error", err)
		}
	}
	return nil
}

// AddNotification stores n for the subscription unless a notification with
// the same id exists, in which case it returns false and changes nothing.
// The subscription's cursor advances to n. It fails with errs.NotFound when
// the subscription is gone, even if it was removed concurrently.
func (m *Manager) AddNotification(ctx context.Context, subscriptionID string, n *model.Notification) (bool, error) {
	n.SubscriptionID = subscriptionID
	n.New = true
	inserted, err := m.store.InsertNotification(ctx, n)
	if err != nil || !inserted {
		return false, err
	}

	if err := m.SetCursor(ctx, subscriptionID, n.ID, n.Time); err != nil {
		m.logger.Warnw("failed to advance cursor", "subscription", subscriptionID, "id", n.ID, "error", err)
	}
	return true, nil
}

// AddNotifications is the bulk form of AddNotification. Every item goes
// through the same dedup; the inserted ones are returned.
func (m *Manager) AddNotifications(ctx context.Context, subscriptionID string, ns []*model.Notification) ([]*model.Notification, error) {
	if len(ns) == 0 {
		return nil, nil
	}

	for _, n := range ns {
		n.SubscriptionID = subscriptionID
		n.New = true
	}
	inserted, err := m.store.InsertNotifications(ctx, ns)
	if err != nil {
		return nil, err
	}

	var newest *model.Notification
	for _, n := range inserted {
		if newest == nil || n.Time >= newest.Time {
			newest = n
		}
	}
	if newest != nil {
		if err := m.SetCursor(ctx, subscriptionID, newest.ID, newest.Time); err != nil {
			m.logger.Warnw("failed to advance cursor", "subscription", subscriptionID, "id", newest.ID, "error", err)
		}
	}
	return inserted, nil
}

// SetCursor moves the subscription's resume cursor forward. Older events do
// not move it back.
func (m *Manager) SetCursor(ctx context.Context, subscriptionID, id string, time int64) error {
	_, err := m.store.UpdateSubscription(ctx, subscriptionID, func(sub *model.Subscription) error {
		if time >= sub.LastTime {
			sub.LastID = id
			sub.LastTime = time
		}
		return nil
	})
	return err
}

// UpdateState records the connection state. Missing subscriptions are ignored
// since a connection may report after its subscription was removed.
func (m *Manager) UpdateState(ctx context.Context, subscriptionID string, state model.ConnectionState) error {
	_, err := m.store.UpdateSubscription(ctx, subscriptionID, func(sub *model.Subscription) error {
		sub.State = state
		return nil
	})
	if errs.Is(err, errs.NotFound) {
		return nil
	}
	return err
}

func (m *Manager) MarkRead(ctx context.Context, notificationID string) error {
	return m.store.MarkNotificationRead(ctx, notificationID)
}

func (m *Manager) MarkAllRead(ctx context.Context, subscriptionID string) error {
	return m.store.MarkNotificationsRead(ctx, subscriptionID)
}

func (m *Manager) DeleteNotification(ctx context.Context, notificationID string) error {
	return m.store.DeleteNotification(ctx, notificationID)
}

func (m *Manager) DeleteNotifications(ctx context.Context, subscriptionID string) error {
	return m.store.DeleteNotifications(ctx, subscriptionID)
}

// SetMutedUntil mutes the subscription until the given unix time.
// 0 unmutes, model.MutedIndefinitely mutes until unmuted.
func (m *Manager) SetMutedUntil(ctx context.Context, subscriptionID string, until int64) (*model.Subscription, error) {
	if until < 0 {
		return nil, errs.Errorf(errs.Validation, "subscription.mute", "invalid mute time %d", until)
	}
	return m.store.UpdateSubscription(ctx, subscriptionID, func(sub *model.Subscription) error {
		sub.MutedUntil = until
		return nil
	})
}

// SetDisplayName overrides the shown name; an empty name clears it.
func (m *Manager) SetDisplayName(ctx context.Context, subscriptionID, name string) (*model.Subscription, error) {
	return m.store.UpdateSubscription(ctx, subscriptionID, func(sub *model.Subscription) error {
		sub.DisplayName = normalizeDisplayName(&name)
		return nil
	})
}

func (m *Manager) SetReservation(ctx context.Context, subscriptionID string, r *model.Reservation) (*model.Subscription, error) {
	return m.store.UpdateSubscription(ctx, subscriptionID, func(sub *model.Subscription) error {
		sub.Reservation = r
		return nil
	})
}

// SetNotificationType changes the delivery mode. Moving into or out of
// background mode rewrites the server-side registration as one replacement,
// so the old and new states are never registered together. Registration
// failures are logged; the local change stands.
func (m *Manager) SetNotificationType(ctx context.Context, subscriptionID string, t model.NotificationType) (*model.Subscription, error) {
	if !t.Valid() {
		return nil, errs.Errorf(errs.Validation, "subscription.set_type", "unknown notification type %q", t)
	}

	var previous model.NotificationType
	sub, err := m.store.UpdateSubscription(ctx, subscriptionID, func(sub *model.Subscription) error {
		previous = sub.NotificationType
		sub.NotificationType = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	if previous != t && (previous == model.NotificationBackground || t == model.NotificationBackground) {
		if err := m.registerBackground(ctx, sub.BaseURL, "", ""); err != nil {
			m.logger.Warnw("failed to update push registration", "id", subscriptionID, "type", t, "error", err)
		}
	}
	return sub, nil
}

// PruneNotifications deletes every notification older than threshold (unix seconds).
func (m *Manager) PruneNotifications(ctx context.Context, threshold int64) (int64, error) {
	return m.store.DeleteNotificationsBefore(ctx, threshold)
}

// SyncFromRemote makes the local non-internal subscriptions match the
// remote account exactly: remote entries are added or updated, local ones
// missing remotely are removed.
func (m *Manager) SyncFromRemote(ctx context.Context, remote []model.RemoteSubscription, reservations []model.Reservation) error {
	keep := make(map[string]bool, len(remote))
	for _, r := range remote {
		var reservation *model.Reservation
		if topic.NormalizeBaseURL(r.BaseURL) == m.defaultBaseURL {
			for i := range reservations {
				if reservations[i].Topic == r.Topic {
					res := reservations[i]
					reservation = &res
					break
				}
			}
		}

		sub, err := m.Add(ctx, r.BaseURL, r.Topic, Options{})
		if errs.Is(err, errs.Validation) {
			m.logger.Warnw("skipping invalid remote subscription", "base_url", r.BaseURL, "topic", r.Topic, "error", err)
			continue
		}
		if err != nil {
			return err
		}

		sub, err = m.store.UpdateSubscription(ctx, sub.ID, func(s *model.Subscription) error {
			s.DisplayName = normalizeDisplayName(r.DisplayName)
			s.Reservation = reservation
			return nil
		})
		if err != nil {
			return err
		}
		keep[sub.ID] = true
	}

	locals, err := m.store.ListSubscriptions(ctx)
	if err != nil {
		return err
	}
	for _, local := range locals {
		if local.Internal || keep[local.ID] {
			continue
		}
		if err := m.Remove(ctx, local.ID); err != nil && !errs.Is(err, errs.NotFound) {
			return err
		}
	}
	return nil
}

// Get returns one subscription.
func (m *Manager) Get(ctx context.Context, id string) (*model.Subscription, error) {
	return m.store.GetSubscription(ctx, id)
}

// All returns every non-internal subscription with its unread count.
func (m *Manager) All(ctx context.Context) ([]Summary, error) {
	subs, err := m.store.ListSubscriptions(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make([]Summary, 0, len(subs))
	for _, s := range subs {
		if s.Internal {
			continue
		}
		count, err := m.store.CountUnread(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, Summary{Subscription: s, NewCount: count})
	}
	return summaries, nil
}

// List returns every subscription, internal ones included.
func (m *Manager) List(ctx context.Context) ([]model.Subscription, error) {
	return m.store.ListSubscriptions(ctx)
}

// Notifications returns the subscription's notifications, newest first.
func (m *Manager) Notifications(ctx context.Context, subscriptionID string) ([]model.Notification, error) {
	return m.store.ListNotifications(ctx, subscriptionID)
}

// NewCount returns the number of unread notifications of a subscription.
func (m *Manager) NewCount(ctx context.Context, subscriptionID string) (int64, error) {
	return m.store.CountUnread(ctx, subscriptionID)
}

func normalizeDisplayName(name *string) *string {
	if name == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*name)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
