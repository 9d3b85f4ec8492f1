package server

import (
	"tally/internal/notifications"

	"github.com/gofiber/fiber/v2"
)

// SendFriendRequest handles POST /friendRequests/:username/send
func (s *Server) SendFriendRequest(c *fiber.Ctx) error {
	username, err := caller(c)
	if err != nil {
		return respond(c, err)
	}
	target, err := requireParam(c, "username")
	if err != nil {
		return respond(c, err)
	}

	ctx := c.UserContext()
	req, err := s.friendService.SendRequest(ctx, username, target)
	if err != nil {
		return respond(c, err)
	}

	s.notify(ctx, requestEvent(notifications.EventRequestSent, req.Receiver, username, req))
	return c.Status(fiber.StatusCreated).JSON(req)
}

// AcceptFriendRequest handles POST /friendRequests/:requestId/accept
func (s *Server) AcceptFriendRequest(c *fiber.Ctx) error {
	username, err := caller(c)
	if err != nil {
		return respond(c, err)
	}
	requestID, err := requireParam(c, "requestId")
	if err != nil {
		return respond(c, err)
	}

	ctx := c.UserContext()
	req, friendship, err := s.friendService.AcceptRequest(ctx, requestID, username)
	if req != nil {
		// the request is accepted even when the friendship write failed
		s.notify(ctx, requestEvent(notifications.EventRequestResolved, req.Sender, username, req))
	}
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(fiber.Map{
		"request":    req,
		"friendship": friendship,
	})
}

// DenyFriendRequest handles POST /friendRequests/:requestId/deny
func (s *Server) DenyFriendRequest(c *fiber.Ctx) error {
	username, err := caller(c)
	if err != nil {
		return respond(c, err)
	}
	requestID, err := requireParam(c, "requestId")
	if err != nil {
		return respond(c, err)
	}

	ctx := c.UserContext()
	req, err := s.friendService.DenyRequest(ctx, requestID, username)
	if err != nil {
		return respond(c, err)
	}

	s.notify(ctx, requestEvent(notifications.EventRequestResolved, req.Sender, username, req))
	return c.JSON(req)
}

// CancelFriendRequest handles POST /friendRequests/:requestId/cancel
func (s *Server) CancelFriendRequest(c *fiber.Ctx) error {
	username, err := caller(c)
	if err != nil {
		return respond(c, err)
	}
	requestID, err := requireParam(c, "requestId")
	if err != nil {
		return respond(c, err)
	}

	ctx := c.UserContext()
	req, err := s.friendService.CancelRequest(ctx, requestID, username)
	if err != nil {
		return respond(c, err)
	}

	s.notify(ctx, requestEvent(notifications.EventRequestCancelled, req.Receiver, username, req))
	return c.JSON(fiber.Map{"id": req.ID, "status": "cancelled"})
}

// GetIncomingRequests handles GET /friendRequests/incoming
func (s *Server) GetIncomingRequests(c *fiber.Ctx) error {
	username, err := caller(c)
	if err != nil {
		return respond(c, err)
	}
	requests, err := s.friendService.IncomingRequests(c.UserContext(), username)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(requests)
}

// GetOutgoingRequests handles GET /friendRequests/outgoing
func (s *Server) GetOutgoingRequests(c *fiber.Ctx) error {
	username, err := caller(c)
	if err != nil {
		return respond(c, err)
	}
	requests, err := s.friendService.OutgoingRequests(c.UserContext(), username)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(requests)
}

// GetFriends handles GET /friends
func (s *Server) GetFriends(c *fiber.Ctx) error {
	username, err := caller(c)
	if err != nil {
		return respond(c, err)
	}
	friends, err := s.friendService.Friends(c.UserContext(), username)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(friends)
}

// RemoveFriend handles DELETE /friends/:username
func (s *Server) RemoveFriend(c *fiber.Ctx) error {
	username, err := caller(c)
	if err != nil {
		return respond(c, err)
	}
	other, err := requireParam(c, "username")
	if err != nil {
		return respond(c, err)
	}

	f, err := s.friendService.RemoveFriend(c.UserContext(), username, other)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(fiber.Map{
		"friendship_id": f.ID,
		"is_active":     f.IsActive,
	})
}
