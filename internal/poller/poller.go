// Package poller catches subscriptions up through the server's poll endpoint,
// as a fallback to the live streams.
package poller

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"notify-sync-client/config"
	"notify-sync-client/internal/errs"
	"notify-sync-client/internal/model"
	"notify-sync-client/internal/ratelimit"
	"notify-sync-client/internal/topic"
)

// EventSync is the event carried in the body of account sync topic messages.
const EventSync = "sync"

// maxLineSize bounds a single NDJSON line.
const maxLineSize = 1 << 20

// Ingester is the subset of subscription.Manager used by the poller.
type Ingester interface {
	List(ctx context.Context) ([]model.Subscription, error)
	AddNotifications(ctx context.Context, subscriptionID string, ns []*model.Notification) ([]*model.Notification, error)
	SetCursor(ctx context.Context, subscriptionID, id string, time int64) error
}

// UserLookup returns the credential stored for a server.
type UserLookup interface {
	GetUser(ctx context.Context, baseURL string) (*model.User, error)
}

// Service polls every subscription on an interval.
type Service struct {
	cfg     config.PollerConfig
	subs    Ingester
	users   UserLookup
	limiter *ratelimit.Keyed
	client  *http.Client
	logger  *zap.SugaredLogger
	onSync  func(ctx context.Context)
}

func NewService(cfg config.PollerConfig, subs Ingester, users UserLookup, logger *zap.SugaredLogger) *Service {
	return &Service{
		cfg:     cfg,
		subs:    subs,
		users:   users,
		limiter: ratelimit.NewKeyed(rate.Limit(cfg.RatePerSec), cfg.Burst),
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// OnSync sets the hook fired when an internal subscription receives a sync
// event. Must be called before Run.
func (s *Service) OnSync(fn func(ctx context.Context)) {
	s.onSync = fn
}

// Run polls all subscriptions on every interval.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info("Poller is disabled. Not starting.")
		return
	}
	s.logger.Info("Starting poller...")

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Poller shutting down.")
			return
		case <-timer.C:
			s.PollOnce(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

// PollOnce polls each subscription once. Failures are logged per subscription.
func (s *Service) PollOnce(ctx context.Context) {
	subs, err := s.subs.List(ctx)
	if err != nil {
		s.logger.Errorw("failed to list subscriptions", "error", err)
		return
	}
	for _, sub := range subs {
		if ctx.Err() != nil {
			return
		}
		added, err := s.Poll(ctx, sub)
		if err != nil {
			s.logger.Warnw("poll failed", "topic", topic.ShortURL(sub.BaseURL, sub.Topic), "error", err)
			continue
		}
		if added > 0 {
			s.logger.Infow("poll caught up notifications", "topic", topic.ShortURL(sub.BaseURL, sub.Topic), "added", added)
		}
	}
}

// Poll fetches the events newer than sub's cursor and ingests them. It
// returns the number of notifications added.
func (s *Service) Poll(ctx context.Context, sub model.Subscription) (int, error) {
	const op = "poller.poll"

	u, err := url.Parse(sub.BaseURL)
	if err != nil {
		return 0, errs.E(errs.Validation, op, err)
	}
	if err := s.limiter.Wait(ctx, u.Host); err != nil {
		return 0, err
	}

	messages, err := s.fetch(ctx, sub)
	if err != nil {
		return 0, err
	}
	if len(messages) == 0 {
		return 0, nil
	}

	if sub.Internal {
		return 0, s.handleInternal(ctx, sub, messages)
	}

	ns := make([]*model.Notification, 0, len(messages))
	for _, m := range messages {
		ns = append(ns, m.Notification(sub.ID))
	}
	inserted, err := s.subs.AddNotifications(ctx, sub.ID, ns)
	if err != nil {
		return 0, err
	}
	return len(inserted), nil
}

// handleInternal advances the cursor of a system subscription without storing
// its messages, and fires the sync hook when one of them asks for it.
func (s *Service) handleInternal(ctx context.Context, sub model.Subscription, messages []*model.Message) error {
	wantSync := false
	for _, m := range messages {
		if isSyncEvent(m) {
			wantSync = true
		}
	}
	last := messages[len(messages)-1]
	if err := s.subs.SetCursor(ctx, sub.ID, last.ID, last.Time); err != nil {
		return err
	}
	if wantSync && s.onSync != nil {
		s.onSync(ctx)
	}
	return nil
}

func (s *Service) fetch(ctx context.Context, sub model.Subscription) ([]*model.Message, error) {
	const op = "poller.fetch"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, topic.JSONPollURL(sub.BaseURL, sub.Topic, sub.Since()), nil)
	if err != nil {
		return nil, errs.E(errs.Validation, op, err)
	}
	if user, err := s.users.GetUser(ctx, sub.BaseURL); err == nil {
		if auth := user.AuthorizationHeader(); auth != "" {
			req.Header.Set("Authorization", auth)
		}
	} else if !errs.Is(err, errs.NotFound) {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errs.E(errs.Network, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.E(errs.FromStatus(resp.StatusCode), op, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var messages []*model.Message
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		if m, ok := model.ParseMessage(scanner.Bytes()); ok {
			messages = append(messages, m)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.E(errs.Network, op, err)
	}
	return messages, nil
}

func isSyncEvent(m *model.Message) bool {
	var body struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal([]byte(m.Message), &body); err != nil {
		return false
	}
	return body.Event == EventSync
}
