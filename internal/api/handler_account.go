package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"notify-sync-client/internal/account"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login handles POST /api/account/login. The token is stored and a sync is
// started right away.
func (h *Handler) Login(c *gin.Context) {
	if !h.accountEnabled(c) {
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()

	token, err := h.account.Login(ctx, req.Username, req.Password)
	if err != nil {
		h.abort(c, err)
		return
	}
	if err := h.session.Store(ctx, req.Username, token); err != nil {
		h.abort(c, err)
		return
	}
	h.logger.Infow("signed in", "username", req.Username)
	h.syncer.Trigger()

	c.JSON(http.StatusOK, gin.H{"username": req.Username})
}

// Logout handles POST /api/account/logout. The local session is reset even
// when the server cannot be reached.
func (h *Handler) Logout(c *gin.Context) {
	if !h.accountEnabled(c) {
		return
	}
	ctx := c.Request.Context()
	if err := h.account.Logout(ctx); err != nil {
		h.logger.Warnw("failed to revoke token", "error", err)
	}
	if err := h.session.Reset(ctx); err != nil {
		h.abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetAccount handles GET /api/account.
func (h *Handler) GetAccount(c *gin.Context) {
	if !h.accountEnabled(c) {
		return
	}
	acct, err := h.account.Get(c.Request.Context())
	if err != nil {
		h.abortAccount(c, "get account", err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

// SyncAccount handles POST /api/account/sync and waits for the sync to finish.
func (h *Handler) SyncAccount(c *gin.Context) {
	if !h.accountEnabled(c) {
		return
	}
	ctx := c.Request.Context()
	if !h.session.Exists(ctx) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not signed in"})
		return
	}
	h.account.Invalidate()
	if err := h.syncer.SyncOnce(ctx); err != nil {
		h.abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type prefsResponse struct {
	Sound              string `json:"sound"`
	MinPriority        int    `json:"min_priority"`
	DeleteAfterSeconds int64  `json:"delete_after_seconds"`
}

// GetPrefs handles GET /api/prefs.
func (h *Handler) GetPrefs(c *gin.Context) {
	ctx := c.Request.Context()
	sound, err := h.prefs.Sound(ctx)
	if err != nil {
		h.abort(c, err)
		return
	}
	minPriority, err := h.prefs.MinPriority(ctx)
	if err != nil {
		h.abort(c, err)
		return
	}
	deleteAfter, err := h.prefs.DeleteAfter(ctx)
	if err != nil {
		h.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, prefsResponse{
		Sound:              sound,
		MinPriority:        minPriority,
		DeleteAfterSeconds: int64(deleteAfter / time.Second),
	})
}

type prefsRequest struct {
	Sound              *string `json:"sound"`
	MinPriority        *int    `json:"min_priority"`
	DeleteAfterSeconds *int64  `json:"delete_after_seconds"`
}

// PatchPrefs handles PATCH /api/prefs and mirrors the change to the account.
func (h *Handler) PatchPrefs(c *gin.Context) {
	var req prefsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()

	if req.Sound != nil {
		if err := h.prefs.SetSound(ctx, *req.Sound); err != nil {
			h.abort(c, err)
			return
		}
	}
	if req.MinPriority != nil {
		if err := h.prefs.SetMinPriority(ctx, *req.MinPriority); err != nil {
			h.abort(c, err)
			return
		}
	}
	if req.DeleteAfterSeconds != nil {
		if err := h.prefs.SetDeleteAfter(ctx, time.Duration(*req.DeleteAfterSeconds)*time.Second); err != nil {
			h.abort(c, err)
			return
		}
	}

	settings := account.Settings{Notification: &account.NotificationPrefs{
		Sound:       req.Sound,
		MinPriority: req.MinPriority,
		DeleteAfter: req.DeleteAfterSeconds,
	}}
	h.pushRemote("update settings", func(ctx context.Context, client *account.Client) error {
		return client.UpdateSettings(ctx, settings)
	})

	h.GetPrefs(c)
}
