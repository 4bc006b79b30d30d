// internal/router/router.go
package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/javajoker/escrowpay/internal/config"
	"github.com/javajoker/escrowpay/internal/handlers"
	"github.com/javajoker/escrowpay/internal/middleware"
	"github.com/javajoker/escrowpay/internal/services"
)

// Services bundles everything the HTTP layer depends on.
type Services struct {
	Escrow  *services.EscrowService
	Dispute *services.DisputeService
	Sweep   *services.SweepService
	Storage *services.StorageService
}

func Setup(db *gorm.DB, cfg *config.Config, svc Services) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))

	escrowHandler := handlers.NewEscrowHandler(svc.Escrow, svc.Dispute)
	disputeHandler := handlers.NewDisputeHandler(svc.Dispute, svc.Storage)
	webhookHandler := handlers.NewWebhookHandler(svc.Escrow, cfg)
	adminHandler := handlers.NewAdminHandler(svc.Escrow, svc.Sweep)

	r.GET("/health", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err != nil || sqlDB.Ping() != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC(),
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.Use(middleware.GeneralRateLimit())
	{
		// processor callbacks authenticate with a payload signature, not a JWT
		webhooks := v1.Group("/webhooks")
		webhooks.Use(middleware.WebhookRateLimit())
		{
			webhooks.POST("/payment", webhookHandler.HandlePaymentWebhook)
		}

		escrows := v1.Group("/escrows")
		escrows.Use(middleware.AuthRequired())
		{
			escrows.POST("", escrowHandler.CreateEscrow)
			escrows.GET("", escrowHandler.ListEscrows)
			escrows.GET("/:id", escrowHandler.GetEscrow)
			escrows.GET("/:id/eligibility", escrowHandler.GetEligibility)
			escrows.GET("/:id/timeline", escrowHandler.GetTimeline)
			escrows.POST("/:id/pay", escrowHandler.Pay)
			escrows.POST("/:id/ship", escrowHandler.MarkShipped)
			escrows.POST("/:id/confirm-delivery", escrowHandler.ConfirmDelivery)
			escrows.POST("/:id/release", escrowHandler.Release)
			escrows.POST("/:id/cancel", escrowHandler.Cancel)
			escrows.POST("/:id/dispute", escrowHandler.OpenDispute)
		}

		disputes := v1.Group("/disputes")
		disputes.Use(middleware.AuthRequired())
		{
			disputes.GET("/:id", disputeHandler.GetDispute)
			disputes.POST("/:id/evidence", disputeHandler.AddEvidence)
			disputes.GET("/:id/evidence/*key", disputeHandler.GetEvidenceURL)
			disputes.POST("/:id/review", middleware.AdminRequired(), disputeHandler.StartReview)
			disputes.PUT("/:id/resolve", middleware.AdminRequired(), disputeHandler.Resolve)
		}

		admin := v1.Group("/admin")
		admin.Use(middleware.AuthRequired(), middleware.AdminRequired())
		{
			admin.POST("/sweep", adminHandler.TriggerSweep)
			admin.POST("/escrows/:id/refund", adminHandler.RefundTransaction)
		}
	}

	return r
}
