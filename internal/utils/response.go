// internal/utils/response.go
package utils

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/javajoker/escrowpay/internal/escrow"
)

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

type APIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func SuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

func SuccessResponseWithMeta(c *gin.Context, data interface{}, meta interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
		Meta:    meta,
	})
}

func CreatedResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, APIResponse{
		Success: true,
		Data:    data,
	})
}

func ErrorResponse(c *gin.Context, statusCode int, code, message string, details interface{}) {
	c.JSON(statusCode, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func BadRequestResponse(c *gin.Context, message string, details interface{}) {
	if message == "" {
		message = "Invalid request"
	}
	ErrorResponse(c, http.StatusBadRequest, "BAD_REQUEST", message, details)
}

func UnauthorizedResponse(c *gin.Context, message string) {
	if message == "" {
		message = "Authentication required"
	}
	ErrorResponse(c, http.StatusUnauthorized, "UNAUTHORIZED", message, nil)
}

func ForbiddenResponse(c *gin.Context, message string) {
	if message == "" {
		message = "Access denied"
	}
	ErrorResponse(c, http.StatusForbidden, "FORBIDDEN", message, nil)
}

func NotFoundResponse(c *gin.Context, resource string) {
	ErrorResponse(c, http.StatusNotFound, "NOT_FOUND", resource+" not found", nil)
}

func ConflictResponse(c *gin.Context, code, message string) {
	ErrorResponse(c, http.StatusConflict, code, message, nil)
}

func InternalErrorResponse(c *gin.Context, message string) {
	if message == "" {
		message = "Internal server error"
	}
	ErrorResponse(c, http.StatusInternalServerError, "INTERNAL_ERROR", message, nil)
}

func ValidationErrorResponse(c *gin.Context, errors []ValidationError) {
	ErrorResponse(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid input", errors)
}

func PaginatedResponse(c *gin.Context, result PaginationResult) {
	SetPaginationHeaders(c, result)
	SuccessResponseWithMeta(c, result.Data, gin.H{
		"pagination": gin.H{
			"page":        result.Page,
			"limit":       result.Limit,
			"total":       result.Total,
			"total_pages": result.TotalPages,
		},
	})
}

// EscrowErrorResponse maps the escrow error taxonomy onto HTTP statuses and
// stable error codes, passing the specific reason through so the UI can
// explain the wait rather than showing a generic failure.
func EscrowErrorResponse(c *gin.Context, err error) {
	var (
		invalidTransition *escrow.InvalidTransitionError
		notEligible       *escrow.NotEligibleError
		providerErr       *escrow.ProviderError
	)

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		ErrorResponse(c, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, escrow.ErrInvalidAmount):
		ErrorResponse(c, http.StatusBadRequest, "INVALID_AMOUNT", err.Error(), nil)
	case errors.Is(err, escrow.ErrInvalidResolution):
		ErrorResponse(c, http.StatusBadRequest, "INVALID_RESOLUTION", err.Error(), nil)
	case errors.Is(err, escrow.ErrAlreadyResolved):
		ErrorResponse(c, http.StatusConflict, "ALREADY_RESOLVED", err.Error(), nil)
	case errors.Is(err, escrow.ErrConcurrentModification):
		ErrorResponse(c, http.StatusConflict, "CONCURRENT_MODIFICATION", err.Error(), nil)
	case errors.As(err, &invalidTransition):
		ErrorResponse(c, http.StatusConflict, "INVALID_TRANSITION", invalidTransition.Error(), nil)
	case errors.As(err, &notEligible):
		ErrorResponse(c, http.StatusUnprocessableEntity, "NOT_ELIGIBLE", notEligible.Reason, nil)
	case errors.As(err, &providerErr):
		ErrorResponse(c, http.StatusBadGateway, "PROVIDER_ERROR", providerErr.Error(), nil)
	default:
		BadRequestResponse(c, err.Error(), nil)
	}
}

func GetUserIDFromContext(c *gin.Context) (string, bool) {
	if userID, exists := c.Get("user_id"); exists {
		if userIDStr, ok := userID.(string); ok {
			return userIDStr, true
		}
	}
	return "", false
}

func GetUserTypeFromContext(c *gin.Context) (string, bool) {
	if userType, exists := c.Get("user_type"); exists {
		if userTypeStr, ok := userType.(string); ok {
			return userTypeStr, true
		}
	}
	return "", false
}
