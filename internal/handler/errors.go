package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/gigvault/escrow/internal/client"
	"github.com/gigvault/escrow/internal/service"
	"github.com/gigvault/escrow/pkg/response"
)

// mapServiceError translates service-layer errors into the response envelope.
func mapServiceError(c *fiber.Ctx, err error) error {
	var procErr *client.ProcessorError
	switch {
	case errors.Is(err, service.ErrValidation):
		return response.ValidationError(c, err.Error(), nil)
	case errors.Is(err, service.ErrNotFound):
		return response.NotFound(c, err.Error())
	case errors.Is(err, service.ErrInvalidTransition):
		return response.InvalidTransition(c, err.Error())
	case errors.Is(err, service.ErrMilestoneFrozen):
		return response.MilestoneFrozen(c, err.Error())
	case errors.Is(err, service.ErrConcurrencyConflict):
		return response.Conflict(c, err.Error())
	case errors.As(err, &procErr):
		return response.ProcessorError(c, procErr.Error())
	default:
		return response.ServiceError(c, "Internal error")
	}
}

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
