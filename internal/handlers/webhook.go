// internal/handlers/webhook.go
package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/escrowpay/internal/config"
	"github.com/javajoker/escrowpay/internal/services"
	"github.com/javajoker/escrowpay/internal/utils"
)

// WebhookHandler receives payment-provider and carrier callbacks. Handlers
// must be idempotent: providers retry delivery until they see a 2xx, so the
// same event can arrive several times.
type WebhookHandler struct {
	escrowService *services.EscrowService
	config        *config.Config
}

type webhookEvent struct {
	Type          string    `json:"type"`
	TransactionID uuid.UUID `json:"transaction_id"`
}

func NewWebhookHandler(escrowService *services.EscrowService, cfg *config.Config) *WebhookHandler {
	return &WebhookHandler{
		escrowService: escrowService,
		config:        cfg,
	}
}

// HandlePaymentWebhook handles POST /webhooks/payment. The payload is
// authenticated with an HMAC-SHA256 signature over the raw body.
func (h *WebhookHandler) HandlePaymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		utils.BadRequestResponse(c, "Failed to read request body", nil)
		return
	}

	if !h.verifySignature(body, c.GetHeader("X-Webhook-Signature")) {
		utils.ErrorResponse(c, http.StatusUnauthorized, "INVALID_SIGNATURE", "Webhook signature verification failed", nil)
		return
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		utils.BadRequestResponse(c, "Invalid webhook payload", err.Error())
		return
	}
	if event.TransactionID == uuid.Nil {
		utils.BadRequestResponse(c, "Missing transaction_id", nil)
		return
	}

	logrus.WithFields(logrus.Fields{
		"event_type":     event.Type,
		"transaction_id": event.TransactionID,
	}).Info("payment webhook received")

	switch event.Type {
	case "payment.succeeded":
		// replays against an already-held transaction are a no-op
		if _, err := h.escrowService.Pay(event.TransactionID); err != nil {
			utils.EscrowErrorResponse(c, err)
			return
		}
	case "shipment.delivered":
		// carrier delivery confirmation starts the escrow clock; duplicate
		// confirmations are a no-op
		if _, err := h.escrowService.ConfirmDelivery(event.TransactionID); err != nil {
			utils.EscrowErrorResponse(c, err)
			return
		}
	default:
		// unknown events are acknowledged so the provider stops retrying
		logrus.WithField("event_type", event.Type).Warn("ignoring unknown webhook event")
	}

	utils.SuccessResponse(c, gin.H{"received": true})
}

func (h *WebhookHandler) verifySignature(body []byte, signature string) bool {
	secret := h.config.Payment.WebhookSecret
	if secret == "" {
		// unsigned mode is only for local development
		return h.config.Environment == "development"
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
