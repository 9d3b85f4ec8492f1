package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"tally/internal/models"
	"tally/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// stubIdentities implements repository.IdentityRepository with overridable
// lookups; every other call fails the test.
type stubIdentities struct {
	repository.IdentityRepository
	FindByKeyFn func(ctx context.Context, id string) (*models.Identity, error)
}

func (s *stubIdentities) FindByKey(ctx context.Context, id string) (*models.Identity, error) {
	return s.FindByKeyFn(ctx, id)
}

func TestIdentityService_RegisterValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   RegisterInput
	}{
		{"short username", RegisterInput{Username: "ab", Email: "ab@example.com", Password: "password1"}},
		{"bad username", RegisterInput{Username: "a b c", Email: "abc@example.com", Password: "password1"}},
		{"bad email", RegisterInput{Username: "abc", Email: "not-an-email", Password: "password1"}},
		{"named email", RegisterInput{Username: "abc", Email: "Abc <abc@example.com>", Password: "password1"}},
		{"short password", RegisterInput{Username: "abc", Email: "abc@example.com", Password: "short"}},
		{"long password", RegisterInput{Username: "abc", Email: "abc@example.com", Password: strings.Repeat("x", 73)}},
		{"long display name", RegisterInput{Username: "abc", Email: "abc@example.com", Password: "password1", DisplayName: strings.Repeat("n", 65)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.identitySvc.Register(ctx, tt.in)
			assert.Equal(t, models.CodeValidation, models.ErrorCode(err))
		})
	}
}

func TestIdentityService_RegisterAndProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.identitySvc.Register(ctx, RegisterInput{
		Username: "dana",
		Email:    "dana@example.com",
		Password: "hunter22hunter",
	})
	require.NoError(t, err)
	assert.Equal(t, "dana", created.DisplayName)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(created.PasswordHash), []byte("hunter22hunter")))

	_, err = f.identitySvc.Register(ctx, RegisterInput{Username: "dana", Email: "other@example.com", Password: "password1"})
	assert.Equal(t, models.CodeValidation, models.ErrorCode(err))
	_, err = f.identitySvc.Register(ctx, RegisterInput{Username: "dane", Email: "DANA@example.com", Password: "password1"})
	assert.Equal(t, models.CodeValidation, models.ErrorCode(err))

	name := "  Dana S.  "
	avatar := "avatars/dana.png"
	updated, err := f.identitySvc.UpdateProfile(ctx, "dana", ProfileInput{DisplayName: &name, Avatar: &avatar})
	require.NoError(t, err)
	assert.Equal(t, "Dana S.", updated.DisplayName)
	assert.Equal(t, avatar, updated.Avatar)

	blank := "   "
	_, err = f.identitySvc.UpdateProfile(ctx, "dana", ProfileInput{DisplayName: &blank})
	assert.Equal(t, models.CodeValidation, models.ErrorCode(err))

	_, err = f.identitySvc.UpdateProfile(ctx, "ghost", ProfileInput{Avatar: &avatar})
	assert.Equal(t, models.CodeNotFound, models.ErrorCode(err))

	_, err = f.identitySvc.UpdateDeviceToken(ctx, "dana", " device-123 ")
	require.NoError(t, err)
	assert.Equal(t, "device-123", f.identitySvc.DeviceToken(ctx, "dana"))
	_, err = f.identitySvc.UpdateDeviceToken(ctx, "dana", "")
	require.NoError(t, err)
	assert.Empty(t, f.identitySvc.DeviceToken(ctx, "dana"))

	summaries, err := f.identitySvc.Summaries(ctx, "dana", "ghost", "dana")
	require.NoError(t, err)
	assert.Len(t, summaries, 2)
	assert.Equal(t, "Dana S.", summaries["dana"].DisplayName)
	assert.Equal(t, "ghost", summaries["ghost"].DisplayName)
}

func TestIdentityService_StorageErrors(t *testing.T) {
	storage := models.NewStorageError(errors.New("redis down; postgres down"))
	svc := NewIdentityService(&stubIdentities{
		FindByKeyFn: func(ctx context.Context, id string) (*models.Identity, error) {
			return nil, storage
		},
	})

	_, err := svc.Get(context.Background(), "dana")
	assert.Equal(t, models.CodeStorage, models.ErrorCode(err))
	_, err = svc.Exists(context.Background(), "dana")
	assert.Equal(t, models.CodeStorage, models.ErrorCode(err))
	assert.Empty(t, svc.DeviceToken(context.Background(), "dana"))
}

func TestStoreError(t *testing.T) {
	assert.NoError(t, storeError(nil))
	assert.Equal(t, models.CodeState, models.ErrorCode(storeError(repository.ErrContention)))
	assert.Equal(t, models.CodeInternal, models.ErrorCode(storeError(repository.ErrConflict)))

	relErr := models.NewRelationshipError("nope")
	assert.Same(t, relErr, storeError(relErr))
}
