// internal/handlers/escrow.go
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/javajoker/escrowpay/internal/escrow"
	"github.com/javajoker/escrowpay/internal/services"
	"github.com/javajoker/escrowpay/internal/utils"
)

type EscrowHandler struct {
	escrowService  *services.EscrowService
	disputeService *services.DisputeService
}

func NewEscrowHandler(escrowService *services.EscrowService, disputeService *services.DisputeService) *EscrowHandler {
	return &EscrowHandler{
		escrowService:  escrowService,
		disputeService: disputeService,
	}
}

// CreateEscrow handles POST /escrows. The authenticated user is the buyer.
func (h *EscrowHandler) CreateEscrow(c *gin.Context) {
	buyerID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req services.CreateEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request format", err.Error())
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		utils.ValidationErrorResponse(c, utils.GetValidationErrors(err))
		return
	}

	tx, err := h.escrowService.CreateEscrow(buyerID, &req)
	if err != nil {
		utils.EscrowErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, tx)
}

// GetEscrow handles GET /escrows/:id. Visible to the two parties and admins.
func (h *EscrowHandler) GetEscrow(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	transactionID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	tx, err := h.escrowService.Get(transactionID)
	if err != nil {
		utils.EscrowErrorResponse(c, err)
		return
	}
	actor := tx.Party(userID)
	if actor == "" && !isAdmin(c) {
		utils.ForbiddenResponse(c, "Not a participant in this transaction")
		return
	}

	utils.SuccessResponse(c, gin.H{
		"transaction": tx,
		"eligibility": h.escrowService.Eligibility(tx, actor),
	})
}

// ListEscrows handles GET /escrows: the caller's transactions on either side,
// newest first, optionally filtered by status.
func (h *EscrowHandler) ListEscrows(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	params := utils.GetPaginationParams(c)
	txs, total, err := h.escrowService.List(userID, params)
	if err != nil {
		utils.InternalErrorResponse(c, "Failed to fetch transactions")
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(txs, total, params))
}

// GetEligibility handles GET /escrows/:id/eligibility: the three checker
// verdicts for the caller, so the UI can render buttons and wait explanations.
func (h *EscrowHandler) GetEligibility(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	transactionID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	tx, err := h.escrowService.Get(transactionID)
	if err != nil {
		utils.EscrowErrorResponse(c, err)
		return
	}
	actor := tx.Party(userID)
	if actor == "" && !isAdmin(c) {
		utils.ForbiddenResponse(c, "Not a participant in this transaction")
		return
	}

	utils.SuccessResponse(c, h.escrowService.Eligibility(tx, actor))
}

// GetTimeline handles GET /escrows/:id/timeline.
func (h *EscrowHandler) GetTimeline(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	transactionID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	tx, err := h.escrowService.Get(transactionID)
	if err != nil {
		utils.EscrowErrorResponse(c, err)
		return
	}
	if tx.Party(userID) == "" && !isAdmin(c) {
		utils.ForbiddenResponse(c, "Not a participant in this transaction")
		return
	}

	utils.SuccessResponse(c, gin.H{
		"transaction_id": tx.ID,
		"timeline":       escrow.Timeline(tx.Snapshot()),
	})
}

// Pay handles POST /escrows/:id/pay: the buyer funds the transaction.
// Replays against a transaction already in payment_held return it unchanged.
func (h *EscrowHandler) Pay(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	transactionID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	tx, err := h.escrowService.Get(transactionID)
	if err != nil {
		utils.EscrowErrorResponse(c, err)
		return
	}
	if tx.BuyerID != userID {
		utils.ForbiddenResponse(c, "Only the buyer can fund the transaction")
		return
	}

	updated, err := h.escrowService.Pay(transactionID)
	if err != nil {
		utils.EscrowErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, updated)
}

type shipRequest struct {
	TrackingReference string `json:"tracking_reference" validate:"required"`
}

// MarkShipped handles POST /escrows/:id/ship. Seller only.
func (h *EscrowHandler) MarkShipped(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	transactionID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req shipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request format", err.Error())
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		utils.ValidationErrorResponse(c, utils.GetValidationErrors(err))
		return
	}

	tx, err := h.escrowService.MarkShipped(transactionID, userID, req.TrackingReference)
	if err != nil {
		utils.EscrowErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, tx)
}

// ConfirmDelivery handles POST /escrows/:id/confirm-delivery. The buyer
// acknowledges receipt, which starts the escrow hold clock.
func (h *EscrowHandler) ConfirmDelivery(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	transactionID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	tx, err := h.escrowService.Get(transactionID)
	if err != nil {
		utils.EscrowErrorResponse(c, err)
		return
	}
	if tx.BuyerID != userID {
		utils.ForbiddenResponse(c, "Only the buyer can confirm delivery")
		return
	}

	updated, err := h.escrowService.ConfirmDelivery(transactionID)
	if err != nil {
		utils.EscrowErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, updated)
}

// Release handles POST /escrows/:id/release: an early release by the buyer,
// or a manual release by an admin. Eligibility still gates both.
func (h *EscrowHandler) Release(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	transactionID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	tx, err := h.escrowService.Get(transactionID)
	if err != nil {
		utils.EscrowErrorResponse(c, err)
		return
	}
	if tx.BuyerID != userID && !isAdmin(c) {
		utils.ForbiddenResponse(c, "Only the buyer can release funds early")
		return
	}

	updated, err := h.escrowService.Release(transactionID)
	if err != nil {
		utils.EscrowErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, updated)
}

// Cancel handles POST /escrows/:id/cancel for either party.
func (h *EscrowHandler) Cancel(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	transactionID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	tx, err := h.escrowService.Cancel(transactionID, userID)
	if err != nil {
		utils.EscrowErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, tx)
}

// OpenDispute handles POST /escrows/:id/dispute.
func (h *EscrowHandler) OpenDispute(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	transactionID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req services.OpenDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request format", err.Error())
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		utils.ValidationErrorResponse(c, utils.GetValidationErrors(err))
		return
	}

	dispute, err := h.disputeService.OpenDispute(transactionID, userID, &req)
	if err != nil {
		utils.EscrowErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, dispute)
}

func requireUserID(c *gin.Context) (uuid.UUID, bool) {
	userIDStr, exists := utils.GetUserIDFromContext(c)
	if !exists {
		utils.UnauthorizedResponse(c, "Authentication required")
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		utils.UnauthorizedResponse(c, "Invalid user identity")
		return uuid.Nil, false
	}
	return userID, true
}

func parseIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "INVALID_ID", "Invalid "+name+" parameter", nil)
		return uuid.Nil, false
	}
	return id, true
}

func isAdmin(c *gin.Context) bool {
	userType, _ := utils.GetUserTypeFromContext(c)
	return userType == "admin"
}
