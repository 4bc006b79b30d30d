// internal/utils/validator.go
package utils

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/javajoker/escrowpay/internal/escrow"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterValidation("seller_tier", validateSellerTier)
}

func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

func validateSellerTier(fl validator.FieldLevel) bool {
	return escrow.ValidTier(escrow.SellerTier(fl.Field().String()))
}

type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func GetValidationErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrs {
			validationErrors = append(validationErrors, ValidationError{
				Field:   strings.ToLower(e.Field()),
				Tag:     e.Tag(),
				Message: getValidationMessage(e),
			})
		}
	}

	return validationErrors
}

func getValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return e.Field() + " is required"
	case "min":
		return e.Field() + " must be at least " + e.Param()
	case "max":
		return e.Field() + " must be at most " + e.Param()
	case "seller_tier":
		return "Seller tier must be one of unverified, basic, verified, trusted"
	default:
		return e.Field() + " is invalid"
	}
}
