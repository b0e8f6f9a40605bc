package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"notify-sync-client/internal/model"
)

type putPushTargetRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	P256DH   string `json:"p256dh" binding:"required"`
	Auth     string `json:"auth" binding:"required"`
}

// PutPushTarget registers a browser or device to receive foreground
// notifications, replacing the keys of an existing endpoint.
func (h *Handler) PutPushTarget(c *gin.Context) {
	var req putPushTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	target := model.PushTarget{
		Endpoint: req.Endpoint,
		P256DH:   req.P256DH,
		Auth:     req.Auth,
	}
	if err := h.store.SavePushTarget(c.Request.Context(), &target); err != nil {
		h.abort(c, err)
		return
	}

	c.Status(http.StatusCreated)
}

type deletePushTargetRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// DeletePushTarget removes a push target.
func (h *Handler) DeletePushTarget(c *gin.Context) {
	var req deletePushTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.DeletePushTarget(c.Request.Context(), req.Endpoint); err != nil {
		h.abort(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// rawQueryParam returns a query value without URL decoding; push endpoints
// are matched byte for byte.
func rawQueryParam(rawQuery, key string) (string, bool) {
	for _, kv := range strings.Split(rawQuery, "&") {
		if strings.HasPrefix(kv, key+"=") {
			return kv[len(key)+1:], true
		}
	}
	return "", false
}

// GetPushTarget reports whether an endpoint is registered.
func (h *Handler) GetPushTarget(c *gin.Context) {
	raw, ok := rawQueryParam(c.Request.URL.RawQuery, "endpoint")
	if !ok || raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint is required"})
		return
	}

	target, err := h.store.GetPushTarget(c.Request.Context(), raw)
	if err != nil {
		h.abort(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"endpoint": target.Endpoint, "created_at": target.CreatedAt})
}
