package connection

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"go.uber.org/zap"

	"notify-sync-client/config"
	"notify-sync-client/internal/model"
	"notify-sync-client/internal/store"
)

// Ingester receives what connections read. subscription.Manager implements it.
type Ingester interface {
	Get(ctx context.Context, id string) (*model.Subscription, error)
	AddNotification(ctx context.Context, subscriptionID string, n *model.Notification) (bool, error)
	SetCursor(ctx context.Context, subscriptionID, id string, time int64) error
	UpdateState(ctx context.Context, subscriptionID string, state model.ConnectionState) error
}

// Notifier delivers newly added notifications to the user.
type Notifier interface {
	Notify(ctx context.Context, sub *model.Subscription, n *model.Notification)
}

// Identity returns the connection identity for a subscription and the
// credential for its server, if any. A changed credential yields a new identity.
func Identity(subscriptionID string, user *model.User) string {
	h := sha256.New()
	h.Write([]byte(subscriptionID))
	if user != nil {
		h.Write([]byte("|" + user.Username + "|" + user.Password + "|" + user.Token))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Manager keeps exactly one connection per active subscription.
type Manager struct {
	store    store.Store
	ingester Ingester
	notifier Notifier
	cfg      config.ConnectionConfig
	dialer   Dialer
	logger   *zap.SugaredLogger
	now      func() time.Time

	mu          sync.Mutex
	connections map[string]*Connection
	trigger     chan struct{}
}

// NewManager creates a connection manager. notifier may be nil.
func NewManager(s store.Store, ingester Ingester, notifier Notifier, cfg config.ConnectionConfig, logger *zap.SugaredLogger) *Manager {
	return &Manager{
		store:       s,
		ingester:    ingester,
		notifier:    notifier,
		cfg:         cfg,
		dialer:      WebsocketDialer{},
		logger:      logger,
		now:         time.Now,
		connections: make(map[string]*Connection),
		trigger:     make(chan struct{}, 1),
	}
}

// Trigger schedules a refresh. Triggers that arrive while one is pending are
// merged into it.
func (m *Manager) Trigger() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// Run refreshes on every subscription or user change and periodically, so
// that expired mutes are picked up. It closes all connections on return.
func (m *Manager) Run(ctx context.Context) {
	m.logger.Info("Starting connection manager...")
	unobserve := m.store.Observe(func(store.Change) { m.Trigger() }, store.Subscriptions, store.Users)
	defer unobserve()
	defer m.CloseAll()

	interval := m.cfg.RefreshInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.refreshFromStore(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Connection manager shutting down.")
			return
		case <-m.trigger:
			m.refreshFromStore(ctx)
		case <-ticker.C:
			m.refreshFromStore(ctx)
		}
	}
}

// refreshFromStore always diffs against the latest snapshot.
func (m *Manager) refreshFromStore(ctx context.Context) {
	subs, err := m.store.ListSubscriptions(ctx)
	if err != nil {
		m.logger.Errorw("failed to load subscriptions", "error", err)
		return
	}
	users, err := m.store.ListUsers(ctx)
	if err != nil {
		m.logger.Errorw("failed to load users", "error", err)
		return
	}
	m.Refresh(subs, users)
}

// Refresh starts a connection for every non-internal, unmuted subscription
// that lacks one and closes connections no longer wanted. Connections whose
// identity is unchanged are left alone. It never waits on the network.
func (m *Manager) Refresh(subs []model.Subscription, users []model.User) {
	usersByBaseURL := make(map[string]*model.User, len(users))
	for i := range users {
		usersByBaseURL[users[i].BaseURL] = &users[i]
	}

	now := m.now()
	desired := make(map[string]model.Subscription)
	for _, sub := range subs {
		if sub.Internal || sub.Muted(now) {
			continue
		}
		desired[Identity(sub.ID, usersByBaseURL[sub.BaseURL])] = sub
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, sub := range desired {
		if _, ok := m.connections[id]; ok {
			continue
		}
		var conn *Connection
		conn = New(id, sub, usersByBaseURL[sub.BaseURL], Options{
			Backoff:          m.cfg.Backoff,
			KeepaliveTimeout: m.cfg.KeepaliveTimeout,
			Dialer:           m.dialer,
		}, m.callbacks(func() *Connection { return conn }), m.logger)
		m.connections[id] = conn
		conn.Start()
		m.logger.Debugw("connection started", "subscription", sub.ID, "connection", id)
	}

	for id, conn := range m.connections {
		if _, ok := desired[id]; ok {
			continue
		}
		delete(m.connections, id)
		go conn.Close()
		m.logger.Debugw("connection closed", "subscription", conn.SubscriptionID(), "connection", id)
	}
}

// Active returns the identities of the tracked connections.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.connections))
	for id := range m.connections {
		ids = append(ids, id)
	}
	return ids
}

// CloseAll closes every connection and waits for them to stop.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	conns := m.connections
	m.connections = make(map[string]*Connection)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			c.Close()
		}(conn)
	}
	wg.Wait()
}

// superseded reports whether another tracked connection serves conn's
// subscription, e.g. after its credential changed.
func (m *Manager) superseded(conn *Connection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.connections {
		if other != conn && other.SubscriptionID() == conn.SubscriptionID() {
			return true
		}
	}
	return false
}

// callbacks builds the handlers for one connection. self returns that
// connection once it is constructed.
func (m *Manager) callbacks(self func() *Connection) Callbacks {
	ctx := context.Background()
	return Callbacks{
		OnStateChange: func(subscriptionID string, state State) {
			// A replaced connection's state must not overwrite its successor's.
			if m.superseded(self()) {
				return
			}
			if err := m.ingester.UpdateState(ctx, subscriptionID, storedState(state)); err != nil {
				m.logger.Warnw("failed to record connection state", "subscription", subscriptionID, "state", state, "error", err)
			}
		},
		OnCursor: func(subscriptionID, id string, time int64) {
			if err := m.ingester.SetCursor(ctx, subscriptionID, id, time); err != nil {
				m.logger.Warnw("failed to advance cursor", "subscription", subscriptionID, "id", id, "error", err)
			}
		},
		OnMessage: func(subscriptionID string, msg *model.Message) {
			n := msg.Notification(subscriptionID)
			added, err := m.ingester.AddNotification(ctx, subscriptionID, n)
			if err != nil {
				m.logger.Errorw("failed to store notification", "subscription", subscriptionID, "id", msg.ID, "error", err)
				return
			}
			if !added || m.notifier == nil {
				return
			}
			sub, err := m.ingester.Get(ctx, subscriptionID)
			if err != nil {
				m.logger.Warnw("subscription vanished before delivery", "subscription", subscriptionID, "error", err)
				return
			}
			m.notifier.Notify(ctx, sub, n)
		},
	}
}

func storedState(s State) model.ConnectionState {
	switch s {
	case Connecting:
		return model.StateConnecting
	case Connected:
		return model.StateConnected
	}
	return model.StateDisconnected
}
