package transport

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/observability"
)

func TestCorrelationMiddleware_GeneratesID(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Use(CorrelationMiddleware())

	var captured string
	app.Get("/ping", func(c *fiber.Ctx) error {
		captured, _ = observability.CorrelationIDFromContext(c.UserContext())
		return c.SendStatus(fiber.StatusOK)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/ping", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if captured == "" {
		t.Fatal("expected a generated correlation id on the request context")
	}
	if got := resp.Header.Get(correlationHeader); got != captured {
		t.Fatalf("response header=%q, want=%q", got, captured)
	}
}

func TestCorrelationMiddleware_PropagatesIncomingID(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Use(CorrelationMiddleware())
	app.Get("/ping", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set(correlationHeader, "cid-inbound")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get(correlationHeader); got != "cid-inbound" {
		t.Fatalf("response header=%q, want=%q", got, "cid-inbound")
	}
}
