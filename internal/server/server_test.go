package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"tally/internal/models"
	"tally/internal/notifications"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	status, _ := env.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, status)

	status, body := env.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", decode[map[string]any](t, body)["status"])

	env.mr.SetError("primary down")
	status, body = env.do(t, http.MethodGet, "/health/ready", "", nil)
	env.mr.SetError("")
	assert.Equal(t, http.StatusOK, status)
	ready := decode[map[string]any](t, body)
	assert.Equal(t, "degraded", ready["status"])
	assert.Equal(t, "unhealthy", ready["checks"].(map[string]any)["primary"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodGet, "/identities/me", "", nil)

	status, body := env.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "tally_websocket_connections")
}

func TestIdentityRoutes(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "alice")

	status, body := env.do(t, http.MethodGet, "/identities/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, models.CodeUnauthorized, decode[models.ErrorResponse](t, body).Code)

	status, body = env.do(t, http.MethodGet, "/identities/me", "alice", nil)
	require.Equal(t, http.StatusOK, status)
	profile := decode[models.Profile](t, body)
	assert.Equal(t, "alice", profile.Username)
	assert.Equal(t, "ALICE", profile.DisplayName)
	assert.False(t, profile.HasDeviceToken)

	status, body = env.do(t, http.MethodPost, "/identities/register", "", map[string]string{
		"username": "alice", "email": "other@example.com", "password": "correct horse battery",
	})
	assert.Equal(t, http.StatusBadRequest, status, string(body))

	name := "Alice A."
	status, body = env.do(t, http.MethodPut, "/identities/me", "alice", map[string]*string{"display_name": &name})
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, "Alice A.", decode[models.Profile](t, body).DisplayName)

	status, body = env.do(t, http.MethodPut, "/identities/me/device-token", "alice", map[string]string{"device_token": "tok-1"})
	require.Equal(t, http.StatusOK, status, string(body))
	assert.True(t, decode[models.Profile](t, body).HasDeviceToken)

	// a token for an identity that was never registered
	status, _ = env.do(t, http.MethodGet, "/identities/me", "ghost", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestFriendRequestRoutes(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "alice", "bob", "carol")

	status, body := env.do(t, http.MethodPost, "/friendRequests/bob/send", "alice", nil)
	require.Equal(t, http.StatusCreated, status, string(body))
	req := decode[models.Request](t, body)
	assert.Equal(t, models.RequestStatusPending, req.Status)

	status, body = env.do(t, http.MethodGet, "/friendRequests/incoming", "bob", nil)
	require.Equal(t, http.StatusOK, status)
	incoming := decode[[]models.Request](t, body)
	require.Len(t, incoming, 1)
	assert.Equal(t, req.ID, incoming[0].ID)

	status, body = env.do(t, http.MethodGet, "/friendRequests/outgoing", "alice", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]models.Request](t, body), 1)

	// only the receiver may answer
	status, _ = env.do(t, http.MethodPost, "/friendRequests/"+req.ID+"/accept", "carol", nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body = env.do(t, http.MethodPost, "/friendRequests/"+req.ID+"/accept", "bob", nil)
	require.Equal(t, http.StatusOK, status, string(body))

	status, _ = env.do(t, http.MethodPost, "/friendRequests/"+req.ID+"/deny", "bob", nil)
	assert.Equal(t, http.StatusConflict, status)

	status, body = env.do(t, http.MethodGet, "/friends", "bob", nil)
	require.Equal(t, http.StatusOK, status)
	friends := decode[[]models.FriendView](t, body)
	require.Len(t, friends, 1)
	assert.Equal(t, "alice", friends[0].Friend.Username)

	// sender cancels a request to carol
	status, body = env.do(t, http.MethodPost, "/friendRequests/carol/send", "alice", nil)
	require.Equal(t, http.StatusCreated, status, string(body))
	toCarol := decode[models.Request](t, body)
	status, body = env.do(t, http.MethodPost, "/friendRequests/"+toCarol.ID+"/cancel", "alice", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, "cancelled", decode[map[string]any](t, body)["status"])

	status, _ = env.do(t, http.MethodPost, "/friendRequests/"+toCarol.ID+"/cancel", "alice", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = env.do(t, http.MethodDelete, "/friends/bob", "alice", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, false, decode[map[string]any](t, body)["is_active"])

	status, _ = env.do(t, http.MethodDelete, "/friends/bob", "alice", nil)
	assert.Equal(t, http.StatusConflict, status)
}

func TestTransactionRoutes(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "alice", "bob")
	env.befriend(t, "alice", "bob")

	status, body := env.do(t, http.MethodPost, "/transactions/bob/add", "alice", map[string]any{
		"amount": 25, "description": "tickets",
	})
	require.Equal(t, http.StatusCreated, status, string(body))
	entry := decode[models.LedgerEntry](t, body)
	assert.Equal(t, models.EntryStatusPending, entry.Status)
	assert.True(t, entry.Amount.Equal(decimal.NewFromInt(25)))

	status, _ = env.do(t, http.MethodPost, "/transactions/bob/add", "alice", map[string]any{"amount": 0.5})
	assert.Equal(t, http.StatusBadRequest, status)

	// pending entries do not count yet
	status, body = env.do(t, http.MethodGet, "/transactions/bob/balance", "alice", nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, balanceOf(t, body).IsZero())

	status, _ = env.do(t, http.MethodPost, "/transactions/"+entry.ID+"/accept", "alice", nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body = env.do(t, http.MethodPost, "/transactions/"+entry.ID+"/accept", "bob", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, "completed", decode[map[string]any](t, body)["status"])

	status, _ = env.do(t, http.MethodPost, "/transactions/"+entry.ID+"/cancel", "alice", nil)
	assert.Equal(t, http.StatusConflict, status)

	status, body = env.do(t, http.MethodGet, "/transactions/bob/balance", "alice", nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, balanceOf(t, body).Equal(decimal.NewFromInt(25)))

	status, body = env.do(t, http.MethodGet, "/transactions/alice/balance", "bob", nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, balanceOf(t, body).Equal(decimal.NewFromInt(-25)))

	// a second entry is cancelled by its sender and disappears
	status, body = env.do(t, http.MethodPost, "/transactions/alice/add", "bob", map[string]any{"amount": "10.00"})
	require.Equal(t, http.StatusCreated, status, string(body))
	second := decode[models.LedgerEntry](t, body)
	status, _ = env.do(t, http.MethodPost, "/transactions/"+second.ID+"/cancel", "bob", nil)
	assert.Equal(t, http.StatusOK, status)

	status, body = env.do(t, http.MethodPost, "/transactions/bob", "alice", nil)
	require.Equal(t, http.StatusOK, status)
	entries := decode[[]models.LedgerEntry](t, body)
	require.Len(t, entries, 1)
	assert.Equal(t, entry.ID, entries[0].ID)

	status, _ = env.do(t, http.MethodPost, "/transactions/nobody", "alice", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = env.do(t, http.MethodDelete, "/friends/bob", "alice", nil)
	require.Equal(t, http.StatusOK, status)
	status, body = env.do(t, http.MethodPost, "/transactions/bob/add", "alice", map[string]any{"amount": 5})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, models.CodeRelationship, decode[models.ErrorResponse](t, body).Code)
}

func TestOfflineCounterpartGetsPush(t *testing.T) {
	var mu sync.Mutex
	var pushes []notifications.PushNotification
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var n notifications.PushNotification
		_ = json.Unmarshal(raw, &n)
		mu.Lock()
		pushes = append(pushes, n)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	cfg := testConfig()
	cfg.PushEndpoint = gateway.URL
	env := newTestEnv(t, cfg)
	env.register(t, "alice", "bob")

	status, _ := env.do(t, http.MethodPut, "/identities/me/device-token", "bob", map[string]string{"device_token": "bob-phone"})
	require.Equal(t, http.StatusOK, status)

	status, body := env.do(t, http.MethodPost, "/friendRequests/bob/send", "alice", nil)
	require.Equal(t, http.StatusCreated, status, string(body))
	env.s.router.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, pushes, 1)
	assert.Equal(t, "bob-phone", pushes[0].DeviceToken)
	assert.Equal(t, "New friend request", pushes[0].Title)
	assert.Equal(t, "/friendRequests", pushes[0].DeepLinkPath)
}

func balanceOf(t *testing.T, body []byte) decimal.Decimal {
	t.Helper()
	return decode[struct {
		Balance decimal.Decimal `json:"balance"`
	}](t, body).Balance
}
