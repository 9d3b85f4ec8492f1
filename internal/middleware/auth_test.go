package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-12345678901234567890123456789012"

func TestAuthRequired(t *testing.T) {
	resolver := NewTokenResolver(testSecret, "", "")
	app := fiber.New()
	app.All("/test", resolver.AuthRequired(), func(c *fiber.Ctx) error {
		username, err := CurrentUsername(c)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"username": username})
	})

	generateToken := func(sub string, exp time.Duration) string {
		s, err := resolver.Issue(sub, jwt.MapClaims{"exp": time.Now().Add(exp).Unix()})
		require.NoError(t, err)
		return s
	}

	otherKey, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice"}).
		SignedString([]byte("a-different-secret-entirely-000000000"))

	tests := []struct {
		name           string
		setup          func(req *http.Request)
		body           string
		expectedStatus int
		expectedUser   string
	}{
		{
			name: "Bearer header",
			setup: func(req *http.Request) {
				req.Header.Set("Authorization", "Bearer "+generateToken("alice", time.Hour))
			},
			expectedStatus: http.StatusOK,
			expectedUser:   "alice",
		},
		{
			name: "Cookie",
			setup: func(req *http.Request) {
				req.AddCookie(&http.Cookie{Name: "token", Value: generateToken("bob", time.Hour)})
			},
			expectedStatus: http.StatusOK,
			expectedUser:   "bob",
		},
		{
			name:           "Body field",
			body:           `{"token":"` + generateToken("carol", time.Hour) + `"}`,
			expectedStatus: http.StatusOK,
			expectedUser:   "carol",
		},
		{
			name:           "Missing token",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name: "Invalid format",
			setup: func(req *http.Request) {
				req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
			},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name: "Expired token",
			setup: func(req *http.Request) {
				req.Header.Set("Authorization", "Bearer "+generateToken("alice", -time.Hour))
			},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name: "Wrong secret",
			setup: func(req *http.Request) {
				req.Header.Set("Authorization", "Bearer "+otherKey)
			},
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req *http.Request
			if tt.body != "" {
				req = httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(tt.body))
				req.Header.Set("Content-Type", "application/json")
			} else {
				req = httptest.NewRequest(http.MethodGet, "/test", nil)
			}
			if tt.setup != nil {
				tt.setup(req)
			}

			resp, err := app.Test(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus == http.StatusOK {
				var body map[string]string
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.Equal(t, tt.expectedUser, body["username"])
			}
		})
	}
}

func TestTokenResolver_QueryParameter(t *testing.T) {
	resolver := NewTokenResolver(testSecret, "", "")
	token, err := resolver.Issue("dave", nil)
	require.NoError(t, err)

	app := fiber.New()
	app.Get("/ws", resolver.AuthRequired(), func(c *fiber.Ctx) error {
		return c.SendString(c.Locals(UsernameLocal).(string))
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTokenResolver_IssuerAndAudience(t *testing.T) {
	strict := NewTokenResolver(testSecret, "tally-auth", "tally")
	lax := NewTokenResolver(testSecret, "", "")

	good, err := strict.Issue("alice", nil)
	require.NoError(t, err)
	user, err := strict.Resolve(good)
	require.NoError(t, err)
	assert.Equal(t, "alice", user)

	noClaims, err := lax.Issue("alice", nil)
	require.NoError(t, err)
	_, err = strict.Resolve(noClaims)
	assert.Error(t, err)
}

func TestTokenResolver_RejectsEmptySubject(t *testing.T) {
	resolver := NewTokenResolver(testSecret, "", "")
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "  "}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = resolver.Resolve(token)
	assert.Error(t, err)
}
