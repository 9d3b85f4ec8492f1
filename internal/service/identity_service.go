package service

import (
	"context"
	"errors"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"tally/internal/models"
	"tally/internal/repository"

	"golang.org/x/crypto/bcrypt"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,32}$`)

const (
	minPasswordLength = 8
	// bcrypt ignores input past 72 bytes
	maxPasswordLength  = 72
	maxDisplayNameRune = 64
)

// RegisterInput is the data needed to create an identity.
type RegisterInput struct {
	Username    string
	DisplayName string
	Email       string
	Password    string
}

// ProfileInput changes the mutable profile fields. Nil fields are left alone.
type ProfileInput struct {
	DisplayName *string
	Avatar      *string
}

// IdentityService provides identity registration and profile logic.
type IdentityService struct {
	identities repository.IdentityRepository
	hashCost   int
	now        func() time.Time
}

// NewIdentityService returns a new IdentityService.
func NewIdentityService(identities repository.IdentityRepository) *IdentityService {
	return &IdentityService{
		identities: identities,
		hashCost:   bcrypt.DefaultCost,
		now:        utcNow,
	}
}

// WithHashCost sets the bcrypt cost used for new identities. Seeding and
// tests lower it.
func (s *IdentityService) WithHashCost(cost int) *IdentityService {
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	s.hashCost = cost
	return s
}

// Register validates input and creates the identity with a hashed password.
func (s *IdentityService) Register(ctx context.Context, in RegisterInput) (*models.Identity, error) {
	username := strings.TrimSpace(in.Username)
	if !usernamePattern.MatchString(username) {
		return nil, models.NewValidationError("Username must be 3-32 letters, digits, '.', '_' or '-'")
	}
	email := strings.TrimSpace(in.Email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, models.NewValidationError("A valid email address is required")
	}
	if len(in.Password) < minPasswordLength || len(in.Password) > maxPasswordLength {
		return nil, models.NewValidationError("Password must be between 8 and 72 characters")
	}
	displayName := strings.TrimSpace(in.DisplayName)
	if displayName == "" {
		displayName = username
	}
	if utf8.RuneCountInString(displayName) > maxDisplayNameRune {
		return nil, models.NewValidationError("Display name is too long")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.hashCost)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	now := s.now()
	identity := &models.Identity{
		Username:     username,
		DisplayName:  displayName,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	created, err := s.identities.Create(ctx, identity)
	if errors.Is(err, repository.ErrConflict) {
		return nil, models.NewValidationError("Username or email is already taken")
	}
	if err != nil {
		return nil, storeError(err)
	}
	return created, nil
}

// Get returns the identity or a NotFound error.
func (s *IdentityService) Get(ctx context.Context, username string) (*models.Identity, error) {
	identity, err := s.identities.FindByKey(ctx, username)
	if err != nil {
		return nil, storeError(err)
	}
	if identity == nil {
		return nil, models.NewNotFoundError("Identity", username)
	}
	return identity, nil
}

// Exists reports whether username is registered.
func (s *IdentityService) Exists(ctx context.Context, username string) (bool, error) {
	identity, err := s.identities.FindByKey(ctx, username)
	if err != nil {
		return false, storeError(err)
	}
	return identity != nil, nil
}

// UpdateProfile changes the display name and avatar.
func (s *IdentityService) UpdateProfile(ctx context.Context, username string, in ProfileInput) (*models.Identity, error) {
	if in.DisplayName != nil {
		name := strings.TrimSpace(*in.DisplayName)
		if name == "" || utf8.RuneCountInString(name) > maxDisplayNameRune {
			return nil, models.NewValidationError("Display name must be 1-64 characters")
		}
		in.DisplayName = &name
	}

	return s.update(ctx, username, func(i *models.Identity) error {
		if in.DisplayName != nil {
			i.DisplayName = *in.DisplayName
		}
		if in.Avatar != nil {
			i.Avatar = strings.TrimSpace(*in.Avatar)
		}
		return nil
	})
}

// UpdateDeviceToken stores the push token for offline notifications. An
// empty token clears it.
func (s *IdentityService) UpdateDeviceToken(ctx context.Context, username, token string) (*models.Identity, error) {
	token = strings.TrimSpace(token)
	return s.update(ctx, username, func(i *models.Identity) error {
		i.DeviceToken = token
		return nil
	})
}

// DeviceToken returns the push token of username, or "" when it has none
// or cannot be read.
func (s *IdentityService) DeviceToken(ctx context.Context, username string) string {
	identity, err := s.identities.FindByKey(ctx, username)
	if err != nil || identity == nil {
		return ""
	}
	return identity.DeviceToken
}

// Summaries resolves public projections for usernames. Unknown names get a
// bare summary.
func (s *IdentityService) Summaries(ctx context.Context, usernames ...string) (map[string]models.IdentitySummary, error) {
	out := make(map[string]models.IdentitySummary, len(usernames))
	for _, username := range usernames {
		if _, ok := out[username]; ok {
			continue
		}
		identity, err := s.identities.FindByKey(ctx, username)
		if err != nil {
			return nil, storeError(err)
		}
		if identity == nil {
			out[username] = models.IdentitySummary{Username: username, DisplayName: username}
			continue
		}
		out[username] = identity.Summary()
	}
	return out, nil
}

func (s *IdentityService) update(ctx context.Context, username string, patch func(*models.Identity) error) (*models.Identity, error) {
	now := s.now()
	updated, err := s.identities.Update(ctx, username, func(i *models.Identity) error {
		if err := patch(i); err != nil {
			return err
		}
		i.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, storeError(err)
	}
	if updated == nil {
		return nil, models.NewNotFoundError("Identity", username)
	}
	return updated, nil
}
