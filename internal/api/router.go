package api

import (
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"classifier-fleet-backend/config"
	"classifier-fleet-backend/internal/artifact"
	"classifier-fleet-backend/internal/assignment"
	"classifier-fleet-backend/internal/mw"
	"classifier-fleet-backend/internal/store"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg *config.Config, s store.Store, resolver *assignment.Resolver, artifacts artifact.Manager, webpushOptions *webpush.Options) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(s, resolver, artifacts, webpushOptions, cfg.Storage.URLExpiry)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst)
	requireKey := mw.RequireAPIKey(cfg.Auth.APIKey)

	// Response caching for the model listing only; everything else is
	// either mutating or liveness-sensitive. TTL 0 disables it.
	caching := func(c *gin.Context) { c.Next() }
	if cfg.Server.CacheTTLSeconds > 0 {
		ttl := time.Duration(cfg.Server.CacheTTLSeconds) * time.Second
		cacheStore := cache.New(ttl, 2*ttl)
		caching = mw.Cache(cacheStore, ttl)
	}

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/health", handler.Health)

		devices := api.Group("/devices")
		{
			// Registration, heartbeats and result submission stay
			// unauthenticated for wire compatibility with deployed
			// Pi clients.
			devices.POST("/register", handler.RegisterDevice)
			devices.GET("", handler.ListDevices)
			devices.GET("/:id", handler.GetDevice)
			devices.POST("/:id/heartbeat", handler.Heartbeat)
			devices.POST("/:id/set_model", requireKey, handler.SetDeviceModel)
			devices.DELETE("/:id", requireKey, handler.DeleteDevice)
		}

		models := api.Group("/models")
		{
			models.GET("", caching, handler.ListModels)
			models.GET("/:id", handler.GetModel)
			models.GET("/:id/download", handler.DownloadModel)
			models.POST("/create", requireKey, handler.CreateModel)
			models.DELETE("/:id", requireKey, handler.DeleteModel)
		}

		results := api.Group("/results")
		{
			results.GET("", handler.ListResults)
			results.GET("/:id", handler.GetResult)
			results.POST("", handler.CreateResult)
			results.DELETE("", requireKey, handler.PurgeResults)
		}

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	return r
}
