package server

import (
	"tally/internal/notifications"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// AddTransaction handles POST /transactions/:counterpart/add
func (s *Server) AddTransaction(c *fiber.Ctx) error {
	username, err := caller(c)
	if err != nil {
		return respond(c, err)
	}
	counterpart, err := requireParam(c, "counterpart")
	if err != nil {
		return respond(c, err)
	}
	var req struct {
		Amount      *decimal.Decimal `json:"amount"`
		Description string           `json:"description"`
	}
	if err := parseBody(c, &req); err != nil {
		return respond(c, err)
	}

	ctx := c.UserContext()
	entry, err := s.ledgerService.Create(ctx, username, counterpart, req.Amount, req.Description)
	if err != nil {
		return respond(c, err)
	}

	s.notify(ctx, entryEvent(notifications.EventEntryCreated, counterpart, username, entry))
	return c.Status(fiber.StatusCreated).JSON(entry)
}

// ListTransactions handles POST /transactions/:counterpart
func (s *Server) ListTransactions(c *fiber.Ctx) error {
	username, err := caller(c)
	if err != nil {
		return respond(c, err)
	}
	counterpart, err := requireParam(c, "counterpart")
	if err != nil {
		return respond(c, err)
	}

	entries, err := s.ledgerService.List(c.UserContext(), username, counterpart)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(entries)
}

// GetBalance handles GET /transactions/:counterpart/balance
func (s *Server) GetBalance(c *fiber.Ctx) error {
	username, err := caller(c)
	if err != nil {
		return respond(c, err)
	}
	counterpart, err := requireParam(c, "counterpart")
	if err != nil {
		return respond(c, err)
	}

	balance, err := s.ledgerService.Balance(c.UserContext(), username, counterpart)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(fiber.Map{
		"counterpart": counterpart,
		"balance":     balance,
	})
}

// AcceptTransaction handles POST /transactions/:entryId/accept
func (s *Server) AcceptTransaction(c *fiber.Ctx) error {
	username, err := caller(c)
	if err != nil {
		return respond(c, err)
	}
	entryID, err := requireParam(c, "entryId")
	if err != nil {
		return respond(c, err)
	}

	ctx := c.UserContext()
	entry, err := s.ledgerService.Accept(ctx, entryID, username)
	if err != nil {
		return respond(c, err)
	}

	s.notify(ctx, entryEvent(notifications.EventEntryAccepted, entry.Sender, username, entry))
	return c.JSON(fiber.Map{"id": entry.ID, "status": entry.Status})
}

// DenyTransaction handles POST /transactions/:entryId/deny
func (s *Server) DenyTransaction(c *fiber.Ctx) error {
	username, err := caller(c)
	if err != nil {
		return respond(c, err)
	}
	entryID, err := requireParam(c, "entryId")
	if err != nil {
		return respond(c, err)
	}

	ctx := c.UserContext()
	entry, err := s.ledgerService.Deny(ctx, entryID, username)
	if err != nil {
		return respond(c, err)
	}

	s.notify(ctx, entryEvent(notifications.EventEntryRejected, entry.Sender, username, entry))
	return c.JSON(fiber.Map{"id": entry.ID, "status": entry.Status})
}

// CancelTransaction handles POST /transactions/:entryId/cancel. The entry
// is deleted.
func (s *Server) CancelTransaction(c *fiber.Ctx) error {
	username, err := caller(c)
	if err != nil {
		return respond(c, err)
	}
	entryID, err := requireParam(c, "entryId")
	if err != nil {
		return respond(c, err)
	}

	ctx := c.UserContext()
	entry, err := s.ledgerService.Cancel(ctx, entryID, username)
	if err != nil {
		return respond(c, err)
	}

	s.notify(ctx, entryEvent(notifications.EventEntryCancelled, entry.Receiver, username, entry))
	return c.JSON(fiber.Map{"id": entry.ID, "status": "cancelled"})
}
