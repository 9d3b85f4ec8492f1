package server

import (
	"context"

	"tally/internal/models"
	"tally/internal/notifications"
)

// notify routes ev to its target. Delivery failures never reach the caller.
func (s *Server) notify(ctx context.Context, ev notifications.Event) {
	s.router.Route(ctx, ev)
}

func entryEvent(t notifications.EventType, target, actor string, e *models.LedgerEntry) notifications.Event {
	amount := e.Amount
	return notifications.Event{
		Type:     t,
		Target:   target,
		EntityID: e.ID,
		Actor:    actor,
		Amount:   &amount,
		Status:   string(e.Status),
		Payload:  e,
	}
}

func requestEvent(t notifications.EventType, target, actor string, r *models.Request) notifications.Event {
	return notifications.Event{
		Type:     t,
		Target:   target,
		EntityID: r.ID,
		Actor:    actor,
		Status:   string(r.Status),
		Payload:  r,
	}
}
