package handler

import (
	"errors"
	"os"

	"github.com/gofiber/fiber/v2"

	"docsign/internal/http/middleware"
	"docsign/internal/mailer"
	"docsign/internal/pdf"
	"docsign/internal/service"
)

// errorPayload defines the standardized error response body. ID carries the
// affected document id on responses where the record exists despite the
// failure (e.g. the signing invite could not be delivered).
type errorPayload struct {
	RequestID string        `json:"request_id"`
	ID        string        `json:"id,omitempty"`
	Error     errorEnvelope `json:"error"`
}

type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// requestIDFromCtx extracts request_id previously stored by middleware.RequestID.
func requestIDFromCtx(c *fiber.Ctx) string {
	if v := c.Locals(middleware.RequestIDLocalKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// writeError writes a standardized JSON error response without leaking internal errors.
//
// Parameters:
// - status: HTTP status code to return
// - code: machine-readable short error code (e.g., "INVALID_ID", "NOT_FOUND", "INTERNAL_ERROR")
// - message: human-readable safe message (no internal details)
func writeError(c *fiber.Ctx, status int, code, message string) error {
	res := errorPayload{
		RequestID: requestIDFromCtx(c),
		Error: errorEnvelope{
			Code:    code,
			Message: message,
		},
	}
	return c.Status(status).JSON(res)
}

// writeServiceError translates service-layer sentinels into the standard
// error envelope. Unrecognized errors collapse to 500 without detail.
func writeServiceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "document not found")
	case errors.Is(err, service.ErrAlreadySigned):
		return writeError(c, fiber.StatusConflict, "ALREADY_SIGNED", "document has already been signed")
	case errors.Is(err, pdf.ErrMalformedDocument):
		return writeError(c, fiber.StatusUnprocessableEntity, "MALFORMED_DOCUMENT", "uploaded file is not a usable PDF")
	case errors.Is(err, pdf.ErrImageDecode):
		return writeError(c, fiber.StatusUnprocessableEntity, "IMAGE_DECODE", "signature image could not be decoded")
	case errors.Is(err, mailer.ErrAuth):
		return writeError(c, fiber.StatusBadGateway, "EMAIL_AUTH_FAILED", "mail server rejected credentials")
	case errors.Is(err, service.ErrNotification):
		return writeError(c, fiber.StatusBadGateway, "NOTIFICATION_FAILED", "signing invite could not be delivered")
	case errors.Is(err, os.ErrNotExist):
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "document file not found")
	}
	return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
}

// ErrorHandler returns a Fiber global error handler that standardizes error responses.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			status = e.Code
		}

		switch status {
		case fiber.StatusBadRequest:
			return writeError(c, status, "BAD_REQUEST", "bad request")
		case fiber.StatusUnauthorized:
			return writeError(c, status, "UNAUTHORIZED", "authentication required")
		case fiber.StatusNotFound:
			return writeError(c, status, "NOT_FOUND", "resource not found")
		case fiber.StatusMethodNotAllowed:
			return writeError(c, status, "METHOD_NOT_ALLOWED", "method not allowed")
		default:
			return writeError(c, status, "INTERNAL_ERROR", "internal server error")
		}
	}
}
