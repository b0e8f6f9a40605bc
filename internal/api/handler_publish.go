package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"notify-sync-client/internal/publish"
)

// Publish handles POST /api/publish. An empty base URL publishes to the
// default server.
func (h *Handler) Publish(c *gin.Context) {
	var req publish.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.BaseURL == "" {
		req.BaseURL = h.subs.DefaultBaseURL()
	}

	m, err := h.publisher.Publish(c.Request.Context(), req)
	if err != nil {
		h.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}
