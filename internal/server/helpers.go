package server

import (
	"strings"

	"tally/internal/middleware"
	"tally/internal/models"

	"github.com/gofiber/fiber/v2"
)

// respond writes err with the status its code maps to.
func respond(c *fiber.Ctx, err error) error {
	return models.RespondWithError(c, models.HTTPStatus(err), err)
}

// param returns a trimmed copy of a route parameter. Fiber reuses the
// underlying buffer, and these values outlive the request in stored
// records and routed events.
func param(c *fiber.Ctx, name string) string {
	return strings.Clone(strings.TrimSpace(c.Params(name)))
}

// requireParam is param that rejects an empty value.
func requireParam(c *fiber.Ctx, name string) (string, error) {
	v := param(c, name)
	if v == "" {
		return "", models.NewValidationError("Missing " + name)
	}
	return v, nil
}

// parseBody decodes the JSON body into out.
func parseBody(c *fiber.Ctx, out interface{}) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(out); err != nil {
		return models.NewValidationError("Invalid request body")
	}
	return nil
}

// caller returns the identity resolved by AuthRequired.
func caller(c *fiber.Ctx) (string, error) {
	return middleware.CurrentUsername(c)
}
