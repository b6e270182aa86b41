package utils

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"tradepost/trade"
	"tradepost/web/models"
)

// SendJSON sends a JSON response using Fiber
func SendJSON(c *fiber.Ctx, statusCode int, data interface{}) error {
	return c.Status(statusCode).JSON(data)
}

// SendSuccess sends a successful JSON response
func SendSuccess(c *fiber.Ctx, data interface{}, message string) error {
	return SendJSON(c, http.StatusOK, models.NewSuccessResponse(data, message))
}

// SendCreated sends a created resource JSON response
func SendCreated(c *fiber.Ctx, data interface{}, message string) error {
	return SendJSON(c, http.StatusCreated, models.NewSuccessResponse(data, message))
}

// SendError sends an error JSON response
func SendError(c *fiber.Ctx, statusCode int, code, message string, messages []string) error {
	return SendJSON(c, statusCode, models.NewErrorResponse(code, message, messages))
}

// SendBadRequest sends a bad request error response
func SendBadRequest(c *fiber.Ctx, message string) error {
	return SendError(c, http.StatusBadRequest, "BAD_REQUEST", message, nil)
}

// SendUnauthorized sends an unauthorized error response
func SendUnauthorized(c *fiber.Ctx, message string) error {
	return SendError(c, http.StatusUnauthorized, "UNAUTHORIZED", message, nil)
}

// SendForbidden sends a forbidden error response
func SendForbidden(c *fiber.Ctx, message string) error {
	return SendError(c, http.StatusForbidden, "FORBIDDEN", message, nil)
}

// SendNotFound sends a not found error response
func SendNotFound(c *fiber.Ctx, message string) error {
	return SendError(c, http.StatusNotFound, "NOT_FOUND", message, nil)
}

// SendConflict sends a conflict error response
func SendConflict(c *fiber.Ctx, message string, messages []string) error {
	return SendError(c, http.StatusConflict, "CONFLICT", message, messages)
}

// SendInternalServerError sends an internal server error response
func SendInternalServerError(c *fiber.Ctx, message string) error {
	return SendError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", message, nil)
}

// SendUnprocessableEntity sends an unprocessable entity error response
func SendUnprocessableEntity(c *fiber.Ctx, message string, messages []string) error {
	return SendError(c, http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, messages)
}

// SendPaginated sends a paginated JSON response
func SendPaginated(c *fiber.Ctx, data interface{}, pagination *models.PaginationInfo, message string) error {
	return SendJSON(c, http.StatusOK, models.NewPaginatedResponse(data, pagination, message))
}

// SendLifecycleError maps a lifecycle error list onto the HTTP status of its
// dominant class and reports every collected violation to the client.
func SendLifecycleError(c *fiber.Ctx, errs *trade.ErrorList) error {
	messages := errs.Messages()
	switch errs.Worst() {
	case trade.ClassNotFound:
		return SendError(c, http.StatusNotFound, "NOT_FOUND", messages[0], messages)
	case trade.ClassForbidden:
		return SendError(c, http.StatusForbidden, "FORBIDDEN", messages[0], messages)
	case trade.ClassConflict:
		return SendConflict(c, messages[0], messages)
	default:
		return SendUnprocessableEntity(c, messages[0], messages)
	}
}

// ExtractActor extracts the authenticated actor from the Fiber context.
func ExtractActor(c *fiber.Ctx) (trade.Actor, bool) {
	actor, ok := c.Locals("actor").(trade.Actor)
	return actor, ok
}

// GetIPAddress extracts the client IP address
func GetIPAddress(c *fiber.Ctx) string {
	if xff := c.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := c.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return c.IP()
}
