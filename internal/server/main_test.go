package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tally/internal/config"
	"tally/internal/database"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "test-secret-key-12345678901234567890123456789012"

type testEnv struct {
	s  *Server
	mr *miniredis.Miniredis
}

func testConfig() *config.Config {
	return &config.Config{
		Port:              "0",
		Env:               "test",
		JWTSecret:         testSecret,
		AllowedOrigins:    "*",
		StoreTimeout:      time.Second,
		MirrorTimeout:     2 * time.Second,
		PushTimeout:       time.Second,
		EventDedupeWindow: time.Second,
	}
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))

	s, err := NewServerWithDeps(cfg, db, client)
	require.NoError(t, err)

	t.Cleanup(func() {
		s.presence.Shutdown(context.Background())
		_ = s.app.Shutdown()
		s.drain()
		_ = client.Close()
	})
	return &testEnv{s: s, mr: mr}
}

func (e *testEnv) token(t *testing.T, username string) string {
	t.Helper()
	tok, err := e.s.auth.Issue(username, nil)
	require.NoError(t, err)
	return tok
}

// do sends a request through the app and returns the status and body.
func (e *testEnv) do(t *testing.T, method, path, username string, body interface{}) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if username != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, username))
	}

	resp, err := e.s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func (e *testEnv) register(t *testing.T, usernames ...string) {
	t.Helper()
	for _, u := range usernames {
		status, body := e.do(t, http.MethodPost, "/identities/register", "", map[string]string{
			"username":     u,
			"display_name": strings.ToUpper(u),
			"email":        u + "@example.com",
			"password":     "correct horse battery",
		})
		require.Equal(t, http.StatusCreated, status, string(body))
	}
}

func (e *testEnv) befriend(t *testing.T, u1, u2 string) {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/friendRequests/"+u2+"/send", u1, nil)
	require.Equal(t, http.StatusCreated, status, string(body))
	var req struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(body, &req))

	status, body = e.do(t, http.MethodPost, "/friendRequests/"+req.ID+"/accept", u2, nil)
	require.Equal(t, http.StatusOK, status, string(body))
}

// listen serves the app on a loopback port and returns its address.
func (e *testEnv) listen(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = e.s.app.Listener(ln) }()
	return ln.Addr().String()
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v), string(body))
	return v
}
