package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"notify-sync-client/internal/account"
	"notify-sync-client/internal/errs"
	"notify-sync-client/internal/model"
	"notify-sync-client/internal/subscription"
	"notify-sync-client/internal/topic"
)

type subscriptionResponse struct {
	ID               string             `json:"id"`
	BaseURL          string             `json:"base_url"`
	Topic            string             `json:"topic"`
	DisplayName      *string            `json:"display_name"`
	NotificationType string             `json:"notification_type"`
	MutedUntil       int64              `json:"muted_until"`
	LastID           string             `json:"last_id,omitempty"`
	LastTime         int64              `json:"last_time,omitempty"`
	State            string             `json:"state,omitempty"`
	Reservation      *model.Reservation `json:"reservation,omitempty"`
	NewCount         int64              `json:"new_count"`
}

func newSubscriptionResponse(sub *model.Subscription, newCount int64) subscriptionResponse {
	return subscriptionResponse{
		ID:               sub.ID,
		BaseURL:          sub.BaseURL,
		Topic:            sub.Topic,
		DisplayName:      sub.DisplayName,
		NotificationType: string(sub.NotificationType),
		MutedUntil:       sub.MutedUntil,
		LastID:           sub.LastID,
		LastTime:         sub.LastTime,
		State:            string(sub.State),
		Reservation:      sub.Reservation,
		NewCount:         newCount,
	}
}

// ListSubscriptions handles GET /api/subscriptions.
func (h *Handler) ListSubscriptions(c *gin.Context) {
	summaries, err := h.subs.All(c.Request.Context())
	if err != nil {
		h.abort(c, err)
		return
	}
	resp := make([]subscriptionResponse, 0, len(summaries))
	for i := range summaries {
		resp = append(resp, newSubscriptionResponse(&summaries[i].Subscription, summaries[i].NewCount))
	}
	c.JSON(http.StatusOK, resp)
}

type addSubscriptionRequest struct {
	BaseURL          string  `json:"base_url"`
	Topic            string  `json:"topic" binding:"required"`
	DisplayName      *string `json:"display_name"`
	NotificationType string  `json:"notification_type"`
}

// AddSubscription handles POST /api/subscriptions. An empty base URL means
// the default server; adding an existing topic returns the existing record.
// A new subscription is caught up through the poll endpoint.
func (h *Handler) AddSubscription(c *gin.Context) {
	var req addSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()

	if req.BaseURL == "" {
		req.BaseURL = h.subs.DefaultBaseURL()
	}
	_, err := h.subs.Get(ctx, topic.SubscriptionID(topic.NormalizeBaseURL(req.BaseURL), req.Topic))
	isNew := errs.Is(err, errs.NotFound)

	sub, err := h.subs.Add(ctx, req.BaseURL, req.Topic, subscription.Options{
		NotificationType: model.NotificationType(req.NotificationType),
		DisplayName:      req.DisplayName,
	})
	if err != nil {
		h.abort(c, err)
		return
	}

	baseURL, name, displayName := sub.BaseURL, sub.Topic, sub.DisplayName
	h.pushRemote("add subscription", func(ctx context.Context, client *account.Client) error {
		if err := client.AddSubscription(ctx, baseURL, name); err != nil {
			return err
		}
		if displayName != nil {
			return client.UpdateSubscription(ctx, baseURL, name, displayName)
		}
		return nil
	})
	if isNew {
		h.catchUp(*sub)
	}

	c.JSON(http.StatusCreated, newSubscriptionResponse(sub, 0))
}

type reservationRequest struct {
	Everyone string `json:"everyone" binding:"required"`
}

type patchSubscriptionRequest struct {
	MutedUntil       *int64              `json:"muted_until"`
	DisplayName      *string             `json:"display_name"`
	NotificationType *string             `json:"notification_type"`
	Reservation      *reservationRequest `json:"reservation"`
}

// PatchSubscription handles PATCH /api/subscriptions/:id. Only the fields
// present in the body change.
func (h *Handler) PatchSubscription(c *gin.Context) {
	id := c.Param("id")
	var req patchSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()

	sub, err := h.subs.Get(ctx, id)
	if err != nil {
		h.abort(c, err)
		return
	}

	if req.Reservation != nil {
		if !h.accountEnabled(c) {
			return
		}
		if err := h.account.UpsertReservation(ctx, sub.Topic, req.Reservation.Everyone); err != nil {
			h.abortAccount(c, "upsert reservation", err)
			return
		}
		if sub, err = h.subs.SetReservation(ctx, id, &model.Reservation{Topic: sub.Topic, Everyone: req.Reservation.Everyone}); err != nil {
			h.abort(c, err)
			return
		}
	}
	if req.MutedUntil != nil {
		if sub, err = h.subs.SetMutedUntil(ctx, id, *req.MutedUntil); err != nil {
			h.abort(c, err)
			return
		}
	}
	if req.NotificationType != nil {
		if sub, err = h.subs.SetNotificationType(ctx, id, model.NotificationType(*req.NotificationType)); err != nil {
			h.abort(c, err)
			return
		}
	}
	if req.DisplayName != nil {
		if sub, err = h.subs.SetDisplayName(ctx, id, *req.DisplayName); err != nil {
			h.abort(c, err)
			return
		}
		baseURL, name, displayName := sub.BaseURL, sub.Topic, sub.DisplayName
		h.pushRemote("update subscription", func(ctx context.Context, client *account.Client) error {
			return client.UpdateSubscription(ctx, baseURL, name, displayName)
		})
	}

	count, err := h.subs.NewCount(ctx, id)
	if err != nil {
		h.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, newSubscriptionResponse(sub, count))
}

// DeleteReservation handles DELETE /api/subscriptions/:id/reservation.
func (h *Handler) DeleteReservation(c *gin.Context) {
	if !h.accountEnabled(c) {
		return
	}
	ctx := c.Request.Context()
	sub, err := h.subs.Get(ctx, c.Param("id"))
	if err != nil {
		h.abort(c, err)
		return
	}
	if err := h.account.DeleteReservation(ctx, sub.Topic, c.Query("delete_messages") == "true"); err != nil {
		h.abortAccount(c, "delete reservation", err)
		return
	}
	if _, err := h.subs.SetReservation(ctx, sub.ID, nil); err != nil {
		h.abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteSubscription handles DELETE /api/subscriptions/:id. Its
// notifications go with it.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	ctx := c.Request.Context()
	sub, err := h.subs.Get(ctx, c.Param("id"))
	if err != nil {
		h.abort(c, err)
		return
	}
	if sub.Internal {
		badRequest(c, errors.New("the account sync topic cannot be removed"))
		return
	}
	if err := h.subs.Remove(ctx, sub.ID); err != nil {
		h.abort(c, err)
		return
	}

	baseURL, name := sub.BaseURL, sub.Topic
	h.pushRemote("delete subscription", func(ctx context.Context, client *account.Client) error {
		return client.DeleteSubscription(ctx, baseURL, name)
	})
	c.Status(http.StatusNoContent)
}

type notificationResponse struct {
	model.Notification
	Topic string `json:"topic"`
}

// ListNotifications handles GET /api/subscriptions/:id/notifications, newest first.
func (h *Handler) ListNotifications(c *gin.Context) {
	ctx := c.Request.Context()
	sub, err := h.subs.Get(ctx, c.Param("id"))
	if err != nil {
		h.abort(c, err)
		return
	}
	ns, err := h.subs.Notifications(ctx, sub.ID)
	if err != nil {
		h.abort(c, err)
		return
	}
	url := topic.URL(sub.BaseURL, sub.Topic)
	resp := make([]notificationResponse, 0, len(ns))
	for _, n := range ns {
		resp = append(resp, notificationResponse{Notification: n, Topic: url})
	}
	c.JSON(http.StatusOK, resp)
}

// MarkAllRead handles POST /api/subscriptions/:id/read.
func (h *Handler) MarkAllRead(c *gin.Context) {
	if err := h.subs.MarkAllRead(c.Request.Context(), c.Param("id")); err != nil {
		h.abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteNotifications handles DELETE /api/subscriptions/:id/notifications.
func (h *Handler) DeleteNotifications(c *gin.Context) {
	if err := h.subs.DeleteNotifications(c.Request.Context(), c.Param("id")); err != nil {
		h.abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkRead handles POST /api/notifications/:id/read.
func (h *Handler) MarkRead(c *gin.Context) {
	if err := h.subs.MarkRead(c.Request.Context(), c.Param("id")); err != nil {
		h.abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteNotification handles DELETE /api/notifications/:id.
func (h *Handler) DeleteNotification(c *gin.Context) {
	if err := h.subs.DeleteNotification(c.Request.Context(), c.Param("id")); err != nil {
		h.abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
