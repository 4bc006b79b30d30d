// internal/handlers/admin.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/escrowpay/internal/services"
	"github.com/javajoker/escrowpay/internal/utils"
)

type AdminHandler struct {
	escrowService *services.EscrowService
	sweepService  *services.SweepService
}

func NewAdminHandler(escrowService *services.EscrowService, sweepService *services.SweepService) *AdminHandler {
	return &AdminHandler{
		escrowService: escrowService,
		sweepService:  sweepService,
	}
}

// TriggerSweep handles POST /admin/sweep: an on-demand reconciliation pass
// outside the ticker schedule.
func (h *AdminHandler) TriggerSweep(c *gin.Context) {
	summary := h.sweepService.Run()
	utils.SuccessResponse(c, summary)
}

// RefundTransaction handles POST /admin/escrows/:id/refund, the operator
// remedy for a held transaction outside the dispute flow.
func (h *AdminHandler) RefundTransaction(c *gin.Context) {
	transactionID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	tx, err := h.escrowService.RefundHeld(transactionID)
	if err != nil {
		utils.EscrowErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, tx)
}
