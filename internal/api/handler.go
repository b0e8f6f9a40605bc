package api

import (
	"context"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"notify-sync-client/internal/account"
	"notify-sync-client/internal/errs"
	"notify-sync-client/internal/model"
	"notify-sync-client/internal/poller"
	"notify-sync-client/internal/prefs"
	"notify-sync-client/internal/publish"
	"notify-sync-client/internal/session"
	"notify-sync-client/internal/store"
	"notify-sync-client/internal/subscription"
	"notify-sync-client/internal/topic"
)

// catchUpTimeout bounds the poll run for a newly added subscription.
const catchUpTimeout = 30 * time.Second

// Deps are the components the API drives. Account and Syncer may be nil,
// which disables the account routes. Poller may be nil, in which case new
// subscriptions wait for their stream or the next poll cycle.
type Deps struct {
	Store         store.Store
	Subscriptions *subscription.Manager
	Prefs         *prefs.Prefs
	Session       *session.Session
	Account       *account.Client
	Syncer        *account.Syncer
	Poller        *poller.Service
	Publisher     *publish.Publisher
	WebPush       *webpush.Options
	Logger        *zap.SugaredLogger
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store     store.Store
	subs      *subscription.Manager
	prefs     *prefs.Prefs
	session   *session.Session
	account   *account.Client
	syncer    *account.Syncer
	poller    *poller.Service
	publisher *publish.Publisher
	webpush   *webpush.Options
	logger    *zap.SugaredLogger
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{
		store:     d.Store,
		subs:      d.Subscriptions,
		prefs:     d.Prefs,
		session:   d.Session,
		account:   d.Account,
		syncer:    d.Syncer,
		poller:    d.Poller,
		publisher: d.Publisher,
		webpush:   d.WebPush,
		logger:    logger,
	}
}

// abort answers with the status matching the error's kind.
func (h *Handler) abort(c *gin.Context, err error) {
	status := errs.HTTPStatus(errs.KindOf(err))
	if status >= http.StatusInternalServerError {
		h.logger.Errorw("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// abortAccount is abort for direct account calls made with the stored token.
// A rejected token signs the user out.
func (h *Handler) abortAccount(c *gin.Context, op string, err error) {
	if errs.Is(err, errs.Unauthorized) {
		h.logger.Warnw("account authentication failed", "op", op, "error", err)
		if resetErr := h.session.Reset(c.Request.Context()); resetErr != nil {
			h.logger.Errorw("failed to reset session", "error", resetErr)
		}
	}
	h.abort(c, err)
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// accountEnabled reports whether the account routes can serve, answering 503
// when they cannot.
func (h *Handler) accountEnabled(c *gin.Context) bool {
	if !h.accountConfigured() {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "account sync is not configured"})
		return false
	}
	return true
}

// pushRemote mirrors a local change to the account in the background.
func (h *Handler) pushRemote(op string, fn func(ctx context.Context, client *account.Client) error) {
	if !h.accountConfigured() {
		return
	}
	client := h.account
	h.syncer.Push(op, func(ctx context.Context) error { return fn(ctx, client) })
}

func (h *Handler) accountConfigured() bool {
	return h.account != nil && h.syncer != nil && h.syncer.Enabled()
}

// catchUp polls a newly added subscription in the background so its history
// shows up without waiting for the next poll cycle.
func (h *Handler) catchUp(sub model.Subscription) {
	if h.poller == nil || sub.Internal {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), catchUpTimeout)
		defer cancel()
		added, err := h.poller.Poll(ctx, sub)
		if err != nil {
			h.logger.Warnw("catch-up poll failed", "topic", topic.ShortURL(sub.BaseURL, sub.Topic), "error", err)
			return
		}
		h.logger.Debugw("catch-up poll finished", "topic", topic.ShortURL(sub.BaseURL, sub.Topic), "added", added)
	}()
}
