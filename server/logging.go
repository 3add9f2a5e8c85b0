package server

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-storefront-auth"
)

func requestLogger(logger auth.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			} else {
				status = auth.HTTPStatus(err)
			}
		}

		args := []any{
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"duration", time.Since(start),
			"request_id", c.GetRespHeader(fiber.HeaderXRequestID),
		}

		if status >= fiber.StatusInternalServerError {
			logger.Warn("request failed", args...)
		} else {
			logger.Debug("request", args...)
		}
		return err
	}
}
