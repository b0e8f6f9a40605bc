package notification

import (
	"context"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"notify-sync-client/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Targets lists and removes the local push targets.
type Targets interface {
	ListPushTargets(ctx context.Context) ([]model.PushTarget, error)
	DeletePushTarget(ctx context.Context, endpoint string) error
}

// WorkerPool forwards formatted notifications to every push target.
type WorkerPool struct {
	size    int
	jobs    chan []byte
	targets Targets
	webpush *webpush.Options
	sender  NotificationSender
	logger  *zap.SugaredLogger
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, targets Targets, webpushOptions *webpush.Options, logger *zap.SugaredLogger) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan []byte, size),
		targets: targets,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		logger:  logger,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.logger.Debugw("push worker started", "worker", id)
	for {
		select {
		case payload := <-wp.jobs:
			wp.sendToAll(ctx, payload)
		case <-ctx.Done():
			wp.logger.Debugw("push worker shutting down", "worker", id)
			return
		}
	}
}

// Dispatch queues a payload for delivery. It blocks while the queue is full.
func (wp *WorkerPool) Dispatch(payload []byte) {
	wp.jobs <- payload
}

func (wp *WorkerPool) sendToAll(ctx context.Context, payload []byte) {
	targets, err := wp.targets.ListPushTargets(ctx)
	if err != nil {
		wp.logger.Errorw("failed to list push targets", "error", err)
		return
	}
	for _, target := range targets {
		wp.send(ctx, target, payload)
	}
}

func (wp *WorkerPool) send(ctx context.Context, target model.PushTarget, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: target.Endpoint,
		Keys: webpush.Keys{
			P256dh: target.P256DH,
			Auth:   target.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.logger.Warnw("failed to send push", "endpoint", target.Endpoint, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		wp.logger.Infow("push target expired, deleting", "endpoint", target.Endpoint)
		if err := wp.targets.DeletePushTarget(ctx, target.Endpoint); err != nil {
			wp.logger.Errorw("failed to delete expired push target", "endpoint", target.Endpoint, "error", err)
		}
	}
}
