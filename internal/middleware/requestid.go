package middleware

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const HeaderRequestID = "X-Request-ID"

// RequestID tags every request with a correlation id and logs its timing.
// An inbound X-Request-ID is honored; otherwise a fresh uuid is assigned.
// The id is echoed on the response and stored in locals under "requestId".
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqID := c.Get(HeaderRequestID)
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals("requestId", reqID)
		c.Set(HeaderRequestID, reqID)

		start := time.Now()
		err := c.Next()

		log.Printf("rid=%s %s %s %d %s", reqID, c.Method(), c.Path(), c.Response().StatusCode(), time.Since(start))
		return err
	}
}
