package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"notify-sync-client/config"
	"notify-sync-client/internal/mw"
	"notify-sync-client/internal/store"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg config.ServerConfig, d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	handler := NewHandler(d)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateBurst)

	// Cached reads are dropped on every local write, including the ones made
	// by the streams and the account sync.
	responses := mw.NewResponseCache(time.Duration(cfg.CacheTTLSeconds) * time.Second)
	d.Store.Observe(func(store.Change) { responses.Flush() }, store.AllCollections...)
	caching := responses.Middleware()

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/subscriptions", caching, handler.ListSubscriptions)
		api.POST("/subscriptions", handler.AddSubscription)
		api.PATCH("/subscriptions/:id", handler.PatchSubscription)
		api.DELETE("/subscriptions/:id", handler.DeleteSubscription)
		api.DELETE("/subscriptions/:id/reservation", handler.DeleteReservation)
		api.GET("/subscriptions/:id/notifications", caching, handler.ListNotifications)
		api.DELETE("/subscriptions/:id/notifications", handler.DeleteNotifications)
		api.POST("/subscriptions/:id/read", handler.MarkAllRead)

		api.POST("/notifications/:id/read", handler.MarkRead)
		api.DELETE("/notifications/:id", handler.DeleteNotification)

		api.POST("/publish", handler.Publish)

		api.GET("/account", handler.GetAccount)
		api.POST("/account/login", handler.Login)
		api.POST("/account/logout", handler.Logout)
		api.POST("/account/sync", handler.SyncAccount)

		api.GET("/prefs", caching, handler.GetPrefs)
		api.PATCH("/prefs", handler.PatchPrefs)

		api.GET("/push_targets", handler.GetPushTarget)
		api.PUT("/push_targets", handler.PutPushTarget)
		api.DELETE("/push_targets", handler.DeletePushTarget)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
