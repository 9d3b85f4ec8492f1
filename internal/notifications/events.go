// Package notifications tracks live channels and routes ledger and
// relationship events to counterparts, over the channel when they are
// online and through a push gateway when they are not.
package notifications

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// EventType names an event exchanged over the live channel.
type EventType string

const (
	EventEntryCreated     EventType = "entry-created"
	EventEntryAccepted    EventType = "entry-accepted"
	EventEntryRejected    EventType = "entry-rejected"
	EventEntryCancelled   EventType = "entry-cancelled"
	EventRequestSent      EventType = "relationship-request-sent"
	EventRequestCancelled EventType = "relationship-request-cancelled"
	EventRequestResolved  EventType = "relationship-request-resolved"
)

// routing-only fields, stripped before delivery
const (
	fieldTarget      = "target"
	fieldDeviceToken = "deviceToken"
)

const maxClientEventFields = 64

var eventTypes = map[EventType]bool{
	EventEntryCreated:     true,
	EventEntryAccepted:    true,
	EventEntryRejected:    true,
	EventEntryCancelled:   true,
	EventRequestSent:      true,
	EventRequestCancelled: true,
	EventRequestResolved:  true,
}

// Valid reports whether t is one of the routable event types.
func (t EventType) Valid() bool {
	return eventTypes[t]
}

// IsLedger reports whether t concerns a ledger entry.
func (t EventType) IsLedger() bool {
	return strings.HasPrefix(string(t), "entry-")
}

// Event is one notification addressed to Target. Target and DeviceToken
// are routing fields and never reach the recipient.
type Event struct {
	Type   EventType
	Target string
	// EntityID identifies the entry or request; used to suppress duplicates.
	EntityID string
	// Actor is the identity whose action produced the event.
	Actor string
	// Amount is set for ledger events and picks the push wording.
	Amount *decimal.Decimal
	// Status is the resolution of a relationship request, if any.
	Status      string
	Payload     any
	DeviceToken string
}

type wireEvent struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// Message encodes the event as sent over a live channel: {type, payload}.
func (e Event) Message() ([]byte, error) {
	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return json.Marshal(wireEvent{Type: e.Type, Payload: payload})
}

// ErrInvalidEvent reports a client message that cannot be relayed.
var ErrInvalidEvent = errors.New("invalid event")

// ParseClientEvent decodes a client-originated channel message. The event
// may carry its fields flat or under "payload"; either way the routing
// fields are removed from what the target receives. The actor is the
// channel's resolved identity, never a client-supplied field.
func ParseClientEvent(raw []byte, actor string) (Event, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var msg map[string]any
	if err := dec.Decode(&msg); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if len(msg) > maxClientEventFields {
		return Event{}, fmt.Errorf("%w: too many fields", ErrInvalidEvent)
	}

	typ, _ := msg["type"].(string)
	ev := Event{Type: EventType(typ), Actor: actor}
	if !ev.Type.Valid() {
		return Event{}, fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, typ)
	}
	ev.Target, _ = msg[fieldTarget].(string)
	ev.Target = strings.TrimSpace(ev.Target)
	if ev.Target == "" {
		return Event{}, fmt.Errorf("%w: missing target", ErrInvalidEvent)
	}
	ev.DeviceToken, _ = msg[fieldDeviceToken].(string)

	var payload map[string]any
	if nested, ok := msg["payload"].(map[string]any); ok {
		payload = nested
		if ev.DeviceToken == "" {
			ev.DeviceToken, _ = nested[fieldDeviceToken].(string)
		}
	} else {
		payload = msg
		delete(payload, "type")
	}
	delete(payload, fieldTarget)
	delete(payload, fieldDeviceToken)
	ev.Payload = payload

	ev.EntityID, _ = payload["id"].(string)
	ev.Status, _ = payload["status"].(string)
	if raw, ok := payload["amount"]; ok {
		if d, err := decimal.NewFromString(fmt.Sprint(raw)); err == nil {
			ev.Amount = &d
		}
	}
	return ev, nil
}
