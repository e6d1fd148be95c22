package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/sifan077/shortlinkd/internal/errx"
	"github.com/sifan077/shortlinkd/internal/http/middleware"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// StatusOf maps an error kind to its HTTP status.
func StatusOf(err error) int {
	switch errx.KindOf(err) {
	case errx.Invalid:
		return fiber.StatusBadRequest
	case errx.Unauthorized:
		return fiber.StatusUnauthorized
	case errx.Forbidden:
		return fiber.StatusForbidden
	case errx.NotFound:
		return fiber.StatusNotFound
	case errx.Conflict:
		return fiber.StatusConflict
	case errx.Gone:
		return fiber.StatusGone
	case errx.Exhausted, errx.Unavailable:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// publicMessage returns the message shown to clients. Server-side failures
// never expose their cause.
func publicMessage(err error, status int) string {
	if status >= fiber.StatusInternalServerError {
		if errx.KindOf(err) == errx.Exhausted {
			return "could not allocate a short code, try again"
		}
		return "internal server error"
	}
	var e *errx.Error
	if errors.As(err, &e) && e.Err != nil {
		return e.Err.Error()
	}
	return err.Error()
}

func writeError(c *fiber.Ctx, logger *zap.Logger, err error) error {
	status := StatusOf(err)
	if status >= fiber.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("op", errx.OpOf(err)),
			zap.String("path", c.Path()),
			zap.String("request_id", middleware.RequestIDFrom(c)),
			zap.Error(err),
		)
	}
	resp := ErrorResponse{
		Error:     publicMessage(err, status),
		RequestID: middleware.RequestIDFrom(c),
	}
	if fields := fieldErrors(err); len(fields) > 0 {
		resp.Details = fields
	}
	return c.Status(status).JSON(resp)
}
