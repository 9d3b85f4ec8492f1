package server

import (
	"context"
	"errors"

	"tally/internal/middleware"
	"tally/internal/notifications"
	"tally/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

var wsLog = observability.NewWSLogger("ws")

// upgradeRequired rejects plain HTTP requests to the websocket route.
func upgradeRequired(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// WebsocketHandler opens the caller's live channel. A new connection
// replaces and closes the caller's previous one. Events the client sends
// are relayed to their target through the router.
func (s *Server) WebsocketHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		username, _ := conn.Locals(middleware.UsernameLocal).(string)
		if username == "" {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"unauthorized"}`))
			_ = conn.Close()
			return
		}
		ctx := observability.WithUsername(context.Background(), username)

		client := notifications.NewClient(conn, username)
		previous, err := s.presence.Register(ctx, username, client)
		if err != nil {
			wsLog.LogError(ctx, username, err, "register")
			msg := `{"error":"connection refused"}`
			if errors.Is(err, notifications.ErrChannelLimit) {
				msg = `{"error":"server connection limit reached"}`
			}
			_ = conn.WriteMessage(websocket.TextMessage, []byte(msg))
			_ = conn.Close()
			return
		}
		if previous != nil {
			previous.Close()
		}

		client.IncomingHandler = func(c *notifications.Client, raw []byte) {
			ev, err := notifications.ParseClientEvent(raw, c.Username)
			if err != nil {
				wsLog.LogError(ctx, c.Username, err, "relay")
				return
			}
			s.router.Route(ctx, ev)
		}

		client.Run(func(c *notifications.Client) {
			s.presence.Unregister(ctx, username, c)
		})
	})
}
