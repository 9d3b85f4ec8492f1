package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// PushNotification is the payload sent to the push gateway.
type PushNotification struct {
	Title               string `json:"title"`
	Body                string `json:"body"`
	DeepLinkPath        string `json:"deepLinkPath"`
	PlatformClickAction string `json:"platformClickAction"`
	DeviceToken         string `json:"deviceToken"`
}

// PushDispatcher delivers a push notification to a device.
type PushDispatcher interface {
	Dispatch(ctx context.Context, n PushNotification) error
}

// Click actions understood by the mobile client.
const (
	ClickOpenTransactions   = "OPEN_TRANSACTIONS"
	ClickOpenFriendRequests = "OPEN_FRIEND_REQUESTS"
)

// BuildPush composes the push for ev. Ledger events word their body by the
// sign of the amount and deep-link to the conversation with the actor.
func BuildPush(ev Event, deviceToken string) PushNotification {
	n := PushNotification{DeviceToken: deviceToken}
	actor := ev.Actor
	if actor == "" {
		actor = "Someone"
	}

	if ev.Type.IsLedger() {
		n.DeepLinkPath = "/transactions/" + ev.Actor
		n.PlatformClickAction = ClickOpenTransactions
		amount := ""
		negative := false
		if ev.Amount != nil {
			amount = ev.Amount.Abs().StringFixed(2)
			negative = ev.Amount.IsNegative()
		}

		switch ev.Type {
		case EventEntryCreated:
			if negative {
				n.Title = "Payment recorded"
				n.Body = fmt.Sprintf("%s recorded that you paid them %s", actor, amount)
			} else {
				n.Title = "New transaction"
				n.Body = fmt.Sprintf("%s says you owe them %s", actor, amount)
			}
		case EventEntryAccepted:
			n.Title = "Transaction accepted"
			n.Body = fmt.Sprintf("%s accepted your transaction of %s", actor, amount)
		case EventEntryRejected:
			n.Title = "Transaction declined"
			n.Body = fmt.Sprintf("%s declined your transaction of %s", actor, amount)
		case EventEntryCancelled:
			n.Title = "Transaction cancelled"
			n.Body = fmt.Sprintf("%s cancelled a transaction of %s", actor, amount)
		}
		return n
	}

	n.DeepLinkPath = "/friendRequests"
	n.PlatformClickAction = ClickOpenFriendRequests
	switch ev.Type {
	case EventRequestSent:
		n.Title = "New friend request"
		n.Body = fmt.Sprintf("%s wants to be your friend", actor)
	case EventRequestCancelled:
		n.Title = "Friend request withdrawn"
		n.Body = fmt.Sprintf("%s cancelled their friend request", actor)
	case EventRequestResolved:
		switch ev.Status {
		case "accepted":
			n.Title = "Friend request accepted"
			n.Body = fmt.Sprintf("%s accepted your friend request", actor)
			n.DeepLinkPath = "/friends"
		case "denied":
			n.Title = "Friend request declined"
			n.Body = fmt.Sprintf("%s declined your friend request", actor)
		default:
			n.Title = "Friend request answered"
			n.Body = fmt.Sprintf("%s responded to your friend request", actor)
		}
	}
	return n
}

// HTTPPushDispatcher posts notifications as JSON to a push gateway.
type HTTPPushDispatcher struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPPushDispatcher creates a dispatcher for endpoint. Each call is
// bounded by timeout.
func NewHTTPPushDispatcher(endpoint, apiKey string, timeout time.Duration) *HTTPPushDispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPPushDispatcher{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

// Dispatch sends n once. There is no retry.
func (d *HTTPPushDispatcher) Dispatch(ctx context.Context, n PushNotification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal push: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("push gateway: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("push gateway returned %d", resp.StatusCode)
	}
	return nil
}
