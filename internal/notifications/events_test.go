package notifications

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClientEvent_StripsRoutingFields(t *testing.T) {
	raw := []byte(`{"type":"entry-created","target":"bob","deviceToken":"tok-1","id":"e1","amount":-12.5,"description":"lunch"}`)

	ev, err := ParseClientEvent(raw, "alice")
	require.NoError(t, err)
	assert.Equal(t, EventEntryCreated, ev.Type)
	assert.Equal(t, "bob", ev.Target)
	assert.Equal(t, "tok-1", ev.DeviceToken)
	assert.Equal(t, "alice", ev.Actor)
	assert.Equal(t, "e1", ev.EntityID)
	require.NotNil(t, ev.Amount)
	assert.True(t, ev.Amount.Equal(decimal.RequireFromString("-12.5")))

	msg, err := ev.Message()
	require.NoError(t, err)
	var wire map[string]any
	require.NoError(t, json.Unmarshal(msg, &wire))
	assert.Equal(t, "entry-created", wire["type"])
	payload := wire["payload"].(map[string]any)
	assert.NotContains(t, payload, "target")
	assert.NotContains(t, payload, "deviceToken")
	assert.NotContains(t, payload, "type")
	assert.Equal(t, "lunch", payload["description"])
}

func TestParseClientEvent_NestedPayload(t *testing.T) {
	raw := []byte(`{"type":"relationship-request-resolved","target":"carol","payload":{"id":"r1","status":"accepted","deviceToken":"tok-2"}}`)

	ev, err := ParseClientEvent(raw, "dave")
	require.NoError(t, err)
	assert.Equal(t, "tok-2", ev.DeviceToken)
	assert.Equal(t, "accepted", ev.Status)
	assert.Equal(t, map[string]any{"id": "r1", "status": "accepted"}, ev.Payload)
}

func TestParseClientEvent_Rejects(t *testing.T) {
	for name, raw := range map[string]string{
		"not json":       `nope`,
		"unknown type":   `{"type":"entry-exploded","target":"bob"}`,
		"missing target": `{"type":"entry-created"}`,
		"blank target":   `{"type":"entry-created","target":"  "}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseClientEvent([]byte(raw), "alice")
			assert.ErrorIs(t, err, ErrInvalidEvent)
		})
	}
}

func TestBuildPush(t *testing.T) {
	positive := decimal.RequireFromString("25")
	negative := decimal.RequireFromString("-250")

	n := BuildPush(Event{Type: EventEntryCreated, Actor: "alice", Amount: &positive}, "tok")
	assert.Equal(t, "New transaction", n.Title)
	assert.Equal(t, "alice says you owe them 25.00", n.Body)
	assert.Equal(t, "/transactions/alice", n.DeepLinkPath)
	assert.Equal(t, ClickOpenTransactions, n.PlatformClickAction)
	assert.Equal(t, "tok", n.DeviceToken)

	n = BuildPush(Event{Type: EventEntryCreated, Actor: "alice", Amount: &negative}, "tok")
	assert.Equal(t, "Payment recorded", n.Title)
	assert.Equal(t, "alice recorded that you paid them 250.00", n.Body)

	n = BuildPush(Event{Type: EventEntryRejected, Actor: "bob", Amount: &positive}, "tok")
	assert.Equal(t, "Transaction declined", n.Title)

	n = BuildPush(Event{Type: EventRequestSent, Actor: "carol"}, "tok")
	assert.Equal(t, "New friend request", n.Title)
	assert.Equal(t, "/friendRequests", n.DeepLinkPath)
	assert.Equal(t, ClickOpenFriendRequests, n.PlatformClickAction)

	n = BuildPush(Event{Type: EventRequestResolved, Actor: "carol", Status: "accepted"}, "tok")
	assert.Equal(t, "Friend request accepted", n.Title)
	assert.Equal(t, "/friends", n.DeepLinkPath)
}
