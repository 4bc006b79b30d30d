// internal/handlers/dispute.go
package handlers

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/escrowpay/internal/services"
	"github.com/javajoker/escrowpay/internal/utils"
)

type DisputeHandler struct {
	disputeService *services.DisputeService
	storageService *services.StorageService
}

func NewDisputeHandler(disputeService *services.DisputeService, storageService *services.StorageService) *DisputeHandler {
	return &DisputeHandler{
		disputeService: disputeService,
		storageService: storageService,
	}
}

// GetDispute handles GET /disputes/:id. Participants and admins only.
func (h *DisputeHandler) GetDispute(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	disputeID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	dispute, err := h.disputeService.Get(disputeID)
	if err != nil {
		utils.EscrowErrorResponse(c, err)
		return
	}
	if !isAdmin(c) && (dispute.Escrow == nil || dispute.Escrow.Party(userID) == "") {
		utils.ForbiddenResponse(c, "Not a participant in this dispute")
		return
	}

	utils.SuccessResponse(c, dispute)
}

// AddEvidence handles POST /disputes/:id/evidence, a multipart upload.
func (h *DisputeHandler) AddEvidence(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	disputeID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		utils.BadRequestResponse(c, "Evidence file is required", err.Error())
		return
	}
	defer file.Close()

	dispute, err := h.disputeService.AddEvidence(disputeID, userID, file, header)
	if err != nil {
		utils.EscrowErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, dispute)
}

// GetEvidenceURL handles GET /disputes/:id/evidence/:key, returning a
// short-lived download link rather than proxying the file.
func (h *DisputeHandler) GetEvidenceURL(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	disputeID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	dispute, err := h.disputeService.Get(disputeID)
	if err != nil {
		utils.EscrowErrorResponse(c, err)
		return
	}
	if !isAdmin(c) && (dispute.Escrow == nil || dispute.Escrow.Party(userID) == "") {
		utils.ForbiddenResponse(c, "Not a participant in this dispute")
		return
	}

	// storage keys contain slashes, so the route uses a wildcard param
	key := strings.TrimPrefix(c.Param("key"), "/")
	found := false
	for _, stored := range dispute.Evidence {
		if stored == key {
			found = true
			break
		}
	}
	if !found {
		utils.NotFoundResponse(c, "evidence")
		return
	}

	url, err := h.storageService.PresignEvidence(key, 15*time.Minute)
	if err != nil {
		utils.InternalErrorResponse(c, "Failed to generate evidence link")
		return
	}

	utils.SuccessResponse(c, gin.H{"url": url, "expires_in_seconds": 900})
}

// StartReview handles POST /disputes/:id/review. Admin only (enforced by
// routing).
func (h *DisputeHandler) StartReview(c *gin.Context) {
	reviewerID, ok := requireUserID(c)
	if !ok {
		return
	}
	disputeID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	dispute, err := h.disputeService.StartReview(disputeID, reviewerID)
	if err != nil {
		utils.EscrowErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, dispute)
}

// Resolve handles POST /disputes/:id/resolve. Admin only (enforced by
// routing). Returns the parent transaction in its post-resolution state.
func (h *DisputeHandler) Resolve(c *gin.Context) {
	resolverID, ok := requireUserID(c)
	if !ok {
		return
	}
	disputeID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req services.ResolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request format", err.Error())
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		utils.ValidationErrorResponse(c, utils.GetValidationErrors(err))
		return
	}

	tx, err := h.disputeService.ResolveDispute(disputeID, resolverID, &req)
	if err != nil {
		utils.EscrowErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, tx)
}
