package account

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"notify-sync-client/config"
	"notify-sync-client/internal/errs"
	"notify-sync-client/internal/model"
	"notify-sync-client/internal/subscription"
)

// API is the part of Client the syncer needs.
type API interface {
	Get(ctx context.Context) (*Account, error)
}

// Subscriptions is the part of subscription.Manager the syncer drives.
type Subscriptions interface {
	Add(ctx context.Context, baseURL, name string, opts subscription.Options) (*model.Subscription, error)
	SyncFromRemote(ctx context.Context, remote []model.RemoteSubscription, reservations []model.Reservation) error
}

// Prefs receives the notification preferences stored with the account.
type Prefs interface {
	SetSound(ctx context.Context, sound string) error
	SetMinPriority(ctx context.Context, priority int) error
	SetDeleteAfter(ctx context.Context, d time.Duration) error
}

// Session is the signed-in state the syncer depends on.
type Session interface {
	Exists(ctx context.Context) bool
	Reset(ctx context.Context) error
}

// Syncer pulls the account into the local store and pushes local changes back.
type Syncer struct {
	cfg            config.AccountConfig
	api            API
	subs           Subscriptions
	prefs          Prefs
	session        Session
	defaultBaseURL string
	logger         *zap.SugaredLogger

	trigger chan struct{}
	pushes  sync.WaitGroup
}

func NewSyncer(cfg config.AccountConfig, api API, subs Subscriptions, prefs Prefs, session Session, defaultBaseURL string, logger *zap.SugaredLogger) *Syncer {
	return &Syncer{
		cfg:            cfg,
		api:            api,
		subs:           subs,
		prefs:          prefs,
		session:        session,
		defaultBaseURL: defaultBaseURL,
		logger:         logger,
		trigger:        make(chan struct{}, 1),
	}
}

// Enabled reports whether account sync is switched on in the configuration.
func (s *Syncer) Enabled() bool {
	return s.cfg.Enabled
}

// Trigger requests a sync soon, e.g. after login or a sync event.
func (s *Syncer) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run syncs at start, on every interval and whenever triggered.
func (s *Syncer) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info("Account sync is disabled. Not starting.")
		return
	}
	s.logger.Info("Starting account sync...")

	s.SyncOnce(ctx)
	timer := time.NewTimer(s.cfg.SyncInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.pushes.Wait()
			s.logger.Info("Account sync shutting down.")
			return
		case <-s.trigger:
			s.SyncOnce(ctx)
		case <-timer.C:
			s.SyncOnce(ctx)
			timer.Reset(s.cfg.SyncInterval)
		}
	}
}

// SyncOnce pulls the account and reconciles local state with it. It is a
// no-op when nobody is signed in.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	if !s.session.Exists(ctx) {
		return nil
	}

	acct, err := s.api.Get(ctx)
	if err != nil {
		s.handleError(ctx, "sync", err)
		return err
	}

	if n := acct.Notification; n != nil {
		s.applyPrefs(ctx, n)
	}

	if acct.SyncTopic != "" {
		if _, err := s.subs.Add(ctx, s.defaultBaseURL, acct.SyncTopic, subscription.Options{Internal: true}); err != nil {
			s.logger.Warnw("failed to subscribe to account sync topic", "topic", acct.SyncTopic, "error", err)
		}
	}

	if err := s.subs.SyncFromRemote(ctx, acct.Subscriptions, acct.Reservations); err != nil {
		s.logger.Errorw("failed to reconcile subscriptions with account", "error", err)
		return err
	}
	s.logger.Debugw("account synced", "username", acct.Username, "subscriptions", len(acct.Subscriptions))
	return nil
}

func (s *Syncer) applyPrefs(ctx context.Context, n *NotificationPrefs) {
	if n.Sound != nil {
		if err := s.prefs.SetSound(ctx, *n.Sound); err != nil {
			s.logger.Warnw("failed to apply sound preference", "error", err)
		}
	}
	if n.MinPriority != nil && *n.MinPriority > 0 {
		if err := s.prefs.SetMinPriority(ctx, *n.MinPriority); err != nil {
			s.logger.Warnw("failed to apply min priority preference", "error", err)
		}
	}
	if n.DeleteAfter != nil {
		if err := s.prefs.SetDeleteAfter(ctx, time.Duration(*n.DeleteAfter)*time.Second); err != nil {
			s.logger.Warnw("failed to apply delete after preference", "error", err)
		}
	}
}

// Push runs fn in the background when signed in. The caller never waits for
// it; failures are handled like any other remote failure.
func (s *Syncer) Push(op string, fn func(ctx context.Context) error) {
	ctx := context.Background()
	if !s.session.Exists(ctx) {
		return
	}
	s.pushes.Add(1)
	go func() {
		defer s.pushes.Done()
		pushCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := fn(pushCtx); err != nil {
			s.handleError(pushCtx, op, err)
		}
	}()
}

// Wait blocks until all pending pushes finished.
func (s *Syncer) Wait() {
	s.pushes.Wait()
}

// handleError resets the session on authentication failures and logs the rest.
func (s *Syncer) handleError(ctx context.Context, op string, err error) {
	switch errs.KindOf(err) {
	case errs.Unauthorized:
		s.logger.Warnw("account authentication failed", "op", op, "error", err)
		if err := s.session.Reset(ctx); err != nil {
			s.logger.Errorw("failed to reset session", "error", err)
		}
	default:
		s.logger.Warnw("account call failed", "op", op, "error", err)
	}
}
