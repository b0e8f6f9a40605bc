// Package notification delivers newly stored notifications to the user
// according to each subscription's delivery mode.
package notification

import (
	"context"
	"time"

	"go.uber.org/zap"

	"notify-sync-client/internal/model"
)

// SoundNone disables the bell for sound-mode subscriptions.
const SoundNone = "none"

// Prefs are the notification preferences consulted on delivery.
type Prefs interface {
	Sound(ctx context.Context) (string, error)
	MinPriority(ctx context.Context) (int, error)
}

// Dispatcher queues push payloads. *WorkerPool implements it.
type Dispatcher interface {
	Dispatch(payload []byte)
}

// Notifier routes notifications by delivery mode.
type Notifier struct {
	prefs  Prefs
	pool   Dispatcher
	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewNotifier creates a notifier. pool may be nil, which disables forwarding.
func NewNotifier(prefs Prefs, pool Dispatcher, logger *zap.SugaredLogger) *Notifier {
	return &Notifier{prefs: prefs, pool: pool, logger: logger, now: time.Now}
}

// Notify delivers n unless its subscription is muted or n is below the
// minimum priority.
func (nt *Notifier) Notify(ctx context.Context, sub *model.Subscription, n *model.Notification) {
	if sub.Muted(nt.now()) {
		nt.logger.Debugw("subscription muted, not notifying", "subscription", sub.ID, "id", n.ID)
		return
	}
	minPriority, err := nt.prefs.MinPriority(ctx)
	if err != nil {
		nt.logger.Warnw("failed to read min priority", "error", err)
	}
	if n.Priority < minPriority {
		return
	}

	switch sub.NotificationType {
	case model.NotificationForeground:
		if nt.pool == nil {
			nt.logger.Warnw("no push worker configured, dropping notification", "subscription", sub.ID, "id", n.ID)
			return
		}
		payload, err := NewPayload(sub, n).Marshal()
		if err != nil {
			nt.logger.Errorw("failed to encode push payload", "id", n.ID, "error", err)
			return
		}
		nt.pool.Dispatch(payload)
	case model.NotificationBackground:
		// Delivered by the server's push path.
	default:
		sound, err := nt.prefs.Sound(ctx)
		if err != nil {
			nt.logger.Warnw("failed to read sound preference", "error", err)
		}
		fields := []any{"title", Title(sub, n), "message", Body(n), "priority", n.Priority}
		if sound != SoundNone {
			fields = append(fields, "sound", sound)
		}
		nt.logger.Infow("notification", fields...)
	}
}
