package middlewares

import (
	"billing-core/errs"
	"billing-core/logger"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// ErrorHandler centralizes error responses and keeps messages sanitized.
func ErrorHandler(log *logger.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		// 1) Fiber errors (use their status code + message)
		if fe, ok := err.(*fiber.Error); ok {
			return c.Status(fe.Code).JSON(fiber.Map{"message": fe.Message})
		}

		// 2) Request-body validation errors (422 + per-field info)
		if ve, ok := err.(validator.ValidationErrors); ok {
			out := make(map[string]string, len(ve))
			for _, fe := range ve {
				out[fe.Field()] = fe.Tag()
			}
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"message": "validation failed",
				"errors":  out,
			})
		}

		// 3) Domain errors carry their own status mapping.
		status := errs.HTTPStatus(err)
		if status == fiber.StatusInternalServerError {
			log.Errorw("internal error", "path", c.Path(), "error", err)
			return c.Status(status).JSON(fiber.Map{"message": "internal server error"})
		}
		return c.Status(status).JSON(fiber.Map{"message": err.Error()})
	}
}
