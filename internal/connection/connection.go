// Package connection keeps one live event stream per subscription and the
// set of streams in line with the local subscriptions.
package connection

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"notify-sync-client/internal/errs"
	"notify-sync-client/internal/model"
	"notify-sync-client/internal/topic"
)

// State is the lifecycle state of a Connection.
type State int

const (
	Idle State = iota
	Connecting
	Connected
	ClosedClean
	ClosedError
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case ClosedClean:
		return "closed"
	case ClosedError:
		return "closed_error"
	}
	return "unknown"
}

// Stream is an open event stream. *websocket.Conn satisfies it.
type Stream interface {
	ReadMessage() (messageType int, p []byte, err error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// Dialer opens streams.
type Dialer interface {
	Dial(ctx context.Context, rawURL string, header http.Header) (Stream, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

// Dial opens a websocket. A rejected handshake is classified by its status code.
func (d WebsocketDialer) Dial(ctx context.Context, rawURL string, header http.Header) (Stream, error) {
	const op = "connection.dial"
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		if resp != nil {
			return nil, errs.E(errs.FromStatus(resp.StatusCode), op, err)
		}
		return nil, errs.E(errs.Network, op, err)
	}
	return conn, nil
}

// Callbacks receive a connection's events. OnCursor always runs before
// OnMessage for the same frame, and calls for one connection never overlap.
type Callbacks struct {
	OnStateChange func(subscriptionID string, state State)
	OnCursor      func(subscriptionID, id string, time int64)
	OnMessage     func(subscriptionID string, m *model.Message)
}

// Options tune a Connection.
type Options struct {
	Backoff          []time.Duration
	KeepaliveTimeout time.Duration
	Dialer           Dialer
}

// Connection is one supervised stream for a subscription. It reconnects with
// backoff after errors until Close is called.
type Connection struct {
	id             string
	subscriptionID string
	baseURL        string
	topic          string
	user           *model.User
	dialer         Dialer
	backoff        *Backoff
	keepalive      time.Duration
	callbacks      Callbacks
	logger         *zap.SugaredLogger
	wait           func(ctx context.Context, d time.Duration) error

	cancelled atomic.Bool
	closeOnce sync.Once

	mu     sync.Mutex
	since  string
	state  State
	stream Stream
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an idle connection for sub. id is the connection identity.
func New(id string, sub model.Subscription, user *model.User, opts Options, cb Callbacks, logger *zap.SugaredLogger) *Connection {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = WebsocketDialer{}
	}
	return &Connection{
		id:             id,
		subscriptionID: sub.ID,
		baseURL:        sub.BaseURL,
		topic:          sub.Topic,
		user:           user,
		dialer:         dialer,
		backoff:        NewBackoff(opts.Backoff),
		keepalive:      opts.KeepaliveTimeout,
		callbacks:      cb,
		logger:         logger.With("topic", topic.ShortURL(sub.BaseURL, sub.Topic)),
		wait:           sleepContext,
		since:          sub.Since(),
	}
}

// ID returns the connection identity.
func (c *Connection) ID() string { return c.id }

// SubscriptionID returns the id of the subscription this connection serves.
func (c *Connection) SubscriptionID() string { return c.subscriptionID }

// State returns the current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Since returns the cursor the next reconnect resumes from.
func (c *Connection) Since() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.since
}

// Start launches the connection loop in the background. It returns immediately.
func (c *Connection) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil || c.cancelled.Load() {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
}

// Close cancels any pending backoff, closes the stream and waits for the
// loop to exit. No handler is invoked after Close returns.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.cancelled.Store(true)
		c.mu.Lock()
		if c.cancel != nil {
			c.cancel()
		}
		if c.stream != nil {
			c.stream.Close()
		}
		c.mu.Unlock()
	})

	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (c *Connection) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		c.setState(Connecting)
		err := c.connectAndRead(ctx)
		if c.cancelled.Load() || ctx.Err() != nil {
			c.setState(ClosedClean)
			return
		}

		c.setState(ClosedError)
		delay := c.backoff.Next()
		c.logger.Infow("connection lost, retrying", "error", err, "retry_in", delay, "failures", c.backoff.Failures())
		if err := c.wait(ctx, delay); err != nil {
			c.setState(ClosedClean)
			return
		}
	}
}

func (c *Connection) connectAndRead(ctx context.Context) error {
	header := http.Header{}
	if auth := c.user.AuthorizationHeader(); auth != "" {
		header.Set("Authorization", auth)
	}

	stream, err := c.dialer.Dial(ctx, c.streamURL(), header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.cancelled.Load() {
		c.mu.Unlock()
		stream.Close()
		return nil
	}
	c.stream = stream
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.stream = nil
		c.mu.Unlock()
		stream.Close()
	}()

	c.backoff.Reset()
	c.setState(Connected)
	c.logger.Debugw("connected", "since", c.Since())

	for {
		if c.keepalive > 0 {
			if err := stream.SetReadDeadline(time.Now().Add(c.keepalive)); err != nil {
				return errs.E(errs.Network, "connection.read", err)
			}
		}
		_, data, err := stream.ReadMessage()
		if err != nil {
			return errs.E(errs.Network, "connection.read", err)
		}

		m, ok := model.ParseMessage(data)
		if !ok {
			continue
		}

		c.mu.Lock()
		c.since = m.ID
		c.mu.Unlock()

		if c.cancelled.Load() {
			return nil
		}
		if c.callbacks.OnCursor != nil {
			c.callbacks.OnCursor(c.subscriptionID, m.ID, m.Time)
		}
		if c.cancelled.Load() {
			return nil
		}
		if c.callbacks.OnMessage != nil {
			c.callbacks.OnMessage(c.subscriptionID, m)
		}
	}
}

func (c *Connection) streamURL() string {
	return topic.WSURL(c.baseURL, c.topic) + "?since=" + url.QueryEscape(c.Since())
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed && c.callbacks.OnStateChange != nil {
		c.callbacks.OnStateChange(c.subscriptionID, s)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
