package server

import (
	"tally/internal/service"

	"github.com/gofiber/fiber/v2"
)

// Register handles POST /identities/register
func (s *Server) Register(c *fiber.Ctx) error {
	var req struct {
		Username    string `json:"username"`
		DisplayName string `json:"display_name"`
		Email       string `json:"email"`
		Password    string `json:"password"`
	}
	if err := parseBody(c, &req); err != nil {
		return respond(c, err)
	}

	identity, err := s.identityService.Register(c.UserContext(), service.RegisterInput{
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Email:       req.Email,
		Password:    req.Password,
	})
	if err != nil {
		return respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(identity.Profile())
}

// GetMyProfile handles GET /identities/me
func (s *Server) GetMyProfile(c *fiber.Ctx) error {
	username, err := caller(c)
	if err != nil {
		return respond(c, err)
	}
	identity, err := s.identityService.Get(c.UserContext(), username)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(identity.Profile())
}

// UpdateMyProfile handles PUT /identities/me
func (s *Server) UpdateMyProfile(c *fiber.Ctx) error {
	username, err := caller(c)
	if err != nil {
		return respond(c, err)
	}
	var req struct {
		DisplayName *string `json:"display_name"`
		Avatar      *string `json:"avatar"`
	}
	if err := parseBody(c, &req); err != nil {
		return respond(c, err)
	}

	identity, err := s.identityService.UpdateProfile(c.UserContext(), username, service.ProfileInput{
		DisplayName: req.DisplayName,
		Avatar:      req.Avatar,
	})
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(identity.Profile())
}

// UpdateDeviceToken handles PUT /identities/me/device-token. An empty
// token stops push delivery.
func (s *Server) UpdateDeviceToken(c *fiber.Ctx) error {
	username, err := caller(c)
	if err != nil {
		return respond(c, err)
	}
	var req struct {
		DeviceToken string `json:"device_token"`
	}
	if err := parseBody(c, &req); err != nil {
		return respond(c, err)
	}

	identity, err := s.identityService.UpdateDeviceToken(c.UserContext(), username, req.DeviceToken)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(identity.Profile())
}
