package transport

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/observability"
)

const correlationHeader = "X-Correlation-ID"

// CorrelationMiddleware tags every request with a correlation id. The
// id is taken from the incoming header when present, generated
// otherwise, echoed back in the response and stored on the request
// context so downstream logging can pick it up.
func CorrelationMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		correlationID := c.Get(correlationHeader)
		if correlationID == "" {
			correlationID = uuid.NewString()
		}

		c.SetUserContext(observability.WithCorrelationID(c.UserContext(), correlationID))
		c.Set(correlationHeader, correlationID)

		return c.Next()
	}
}
