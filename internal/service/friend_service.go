package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"tally/internal/cache"
	"tally/internal/models"
	"tally/internal/repository"

	"github.com/google/uuid"
)

// FriendService provides relationship-request and friendship business logic.
type FriendService struct {
	requests    repository.RequestRepository
	friendships repository.FriendshipRepository
	identities  *IdentityService
	now         func() time.Time
}

// NewFriendService returns a new FriendService.
func NewFriendService(
	requests repository.RequestRepository,
	friendships repository.FriendshipRepository,
	identities *IdentityService,
) *FriendService {
	return &FriendService{
		requests:    requests,
		friendships: friendships,
		identities:  identities,
		now:         utcNow,
	}
}

// Friendship returns the edge between two identities, active or not, or nil.
func (s *FriendService) Friendship(ctx context.Context, u1, u2 string) (*models.Friendship, error) {
	f, err := s.friendships.FindByIndex(ctx, cache.FriendshipPairKeys(u1, u2)[0])
	return f, storeError(err)
}

// ActiveFriendship returns the active edge between two identities or a
// RelationshipError.
func (s *FriendService) ActiveFriendship(ctx context.Context, u1, u2 string) (*models.Friendship, error) {
	f, err := s.Friendship(ctx, u1, u2)
	if err != nil {
		return nil, err
	}
	if f == nil || !f.IsActive {
		return nil, models.NewRelationshipError("You are not friends with " + u2)
	}
	return f, nil
}

// SendRequest proposes a friendship from sender to receiver.
func (s *FriendService) SendRequest(ctx context.Context, sender, receiver string) (*models.Request, error) {
	if sender == receiver {
		return nil, models.NewValidationError("Cannot send a friend request to yourself")
	}
	ok, err := s.identities.Exists(ctx, receiver)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.NewNotFoundError("Identity", receiver)
	}

	f, err := s.Friendship(ctx, sender, receiver)
	if err != nil {
		return nil, err
	}
	if f != nil && f.IsActive {
		return nil, models.NewRelationshipError("You are already friends")
	}

	if err := s.checkPending(ctx, sender, receiver); err != nil {
		return nil, err
	}

	req := &models.Request{
		ID:        uuid.NewString(),
		Sender:    sender,
		Receiver:  receiver,
		Status:    models.RequestStatusPending,
		CreatedAt: s.now(),
	}
	created, err := s.requests.Create(ctx, req)
	if errors.Is(err, repository.ErrConflict) {
		// lost the race for the pair's pending slot
		if err := s.checkPending(ctx, sender, receiver); err != nil {
			return nil, err
		}
		return nil, models.NewRelationshipError("Friend request already sent")
	}
	if err != nil {
		return nil, storeError(err)
	}
	return created, nil
}

// checkPending rejects a send while any pending request links the pair.
func (s *FriendService) checkPending(ctx context.Context, sender, receiver string) error {
	existing, err := s.requests.FindByIndex(ctx, cache.PendingRequestKey(sender, receiver))
	if err != nil {
		return storeError(err)
	}
	if existing == nil || existing.Status != models.RequestStatusPending {
		return nil
	}
	if existing.Sender == sender {
		return models.NewRelationshipError("Friend request already sent")
	}
	return models.NewRelationshipError("You already have a pending friend request from this user")
}

// resolve moves a pending request to status on behalf of its receiver.
func (s *FriendService) resolve(ctx context.Context, requestID, actor string, status models.RequestStatus) (*models.Request, error) {
	now := s.now()
	updated, err := s.requests.Update(ctx, requestID, func(r *models.Request) error {
		if r.Receiver != actor {
			return models.NewAuthorizationError("Only the receiver can respond to this friend request")
		}
		if r.Status != models.RequestStatusPending {
			return models.NewStateError("Friend request is already " + string(r.Status))
		}
		r.Status = status
		r.ResolvedAt = &now
		return nil
	})
	if err != nil {
		return nil, storeError(err)
	}
	if updated == nil {
		return nil, models.NewNotFoundError("Friend request", requestID)
	}
	return updated, nil
}

// AcceptRequest accepts a pending request and creates or reactivates the
// friendship. Accepting again completes an earlier accept whose friendship
// write never landed.
func (s *FriendService) AcceptRequest(ctx context.Context, requestID, actor string) (*models.Request, *models.Friendship, error) {
	req, err := s.resolve(ctx, requestID, actor, models.RequestStatusAccepted)
	if models.ErrorCode(err) == models.CodeState {
		req, err = s.unfinishedAccept(ctx, requestID, actor, err)
	}
	if err != nil {
		return nil, nil, err
	}
	f, err := s.ensureFriendship(ctx, req.Sender, req.Receiver)
	if err != nil {
		return req, nil, err
	}
	return req, f, nil
}

// unfinishedAccept returns the request when it was accepted by actor but no
// friendship followed. Anything else keeps stateErr.
func (s *FriendService) unfinishedAccept(ctx context.Context, requestID, actor string, stateErr error) (*models.Request, error) {
	req, err := s.requests.FindByKey(ctx, requestID)
	if err != nil {
		return nil, storeError(err)
	}
	if req == nil || req.Receiver != actor || req.Status != models.RequestStatusAccepted || req.ResolvedAt == nil {
		return nil, stateErr
	}
	f, err := s.Friendship(ctx, req.Sender, req.Receiver)
	if err != nil {
		return nil, err
	}
	// a friendship touched after the accept means it did land, and any
	// removal since then stands
	if f != nil && !f.UpdatedAt.Before(*req.ResolvedAt) {
		return nil, stateErr
	}
	return req, nil
}

// DenyRequest declines a pending request.
func (s *FriendService) DenyRequest(ctx context.Context, requestID, actor string) (*models.Request, error) {
	return s.resolve(ctx, requestID, actor, models.RequestStatusDenied)
}

// CancelRequest deletes a pending request on behalf of its sender.
func (s *FriendService) CancelRequest(ctx context.Context, requestID, actor string) (*models.Request, error) {
	var cancelled models.Request
	ok, err := s.requests.DeleteIf(ctx, requestID, func(r *models.Request) error {
		if r.Sender != actor {
			return models.NewAuthorizationError("Only the sender can cancel this friend request")
		}
		if r.Status != models.RequestStatusPending {
			return models.NewStateError("Friend request is already " + string(r.Status))
		}
		cancelled = *r
		return nil
	})
	if err != nil {
		return nil, storeError(err)
	}
	if !ok {
		return nil, models.NewNotFoundError("Friend request", requestID)
	}
	return &cancelled, nil
}

func (s *FriendService) ensureFriendship(ctx context.Context, u1, u2 string) (*models.Friendship, error) {
	now := s.now()
	for attempt := 0; attempt < 2; attempt++ {
		existing, err := s.Friendship(ctx, u1, u2)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			updated, err := s.friendships.Update(ctx, existing.ID, func(f *models.Friendship) error {
				f.IsActive = true
				f.LastActivityAt = now
				f.UpdatedAt = now
				return nil
			})
			if err != nil {
				return nil, storeError(err)
			}
			if updated != nil {
				return updated, nil
			}
			continue
		}

		a, b := models.CanonicalPair(u1, u2)
		created, err := s.friendships.Create(ctx, &models.Friendship{
			ID:             uuid.NewString(),
			UserA:          a,
			UserB:          b,
			IsActive:       true,
			LastActivityAt: now,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
		if errors.Is(err, repository.ErrConflict) {
			// created concurrently, reactivate that one
			continue
		}
		if err != nil {
			return nil, storeError(err)
		}
		return created, nil
	}
	return nil, models.NewStateError("Friendship is being modified concurrently, please retry")
}

// IncomingRequests lists pending requests addressed to username, newest first.
func (s *FriendService) IncomingRequests(ctx context.Context, username string) ([]models.Request, error) {
	return s.pending(ctx, cache.SetKey(username, cache.RelRequestsIn))
}

// OutgoingRequests lists pending requests sent by username, newest first.
func (s *FriendService) OutgoingRequests(ctx context.Context, username string) ([]models.Request, error) {
	return s.pending(ctx, cache.SetKey(username, cache.RelRequestsOut))
}

func (s *FriendService) pending(ctx context.Context, setKey string) ([]models.Request, error) {
	all, err := s.requests.ListMembers(ctx, setKey)
	if err != nil {
		return nil, storeError(err)
	}
	out := make([]models.Request, 0, len(all))
	for _, r := range all {
		if r.Status == models.RequestStatusPending {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Friends lists the active friendships of username with the balance seen
// from username, most recently active first.
func (s *FriendService) Friends(ctx context.Context, username string) ([]models.FriendView, error) {
	all, err := s.friendships.ListMembers(ctx, cache.SetKey(username, cache.RelFriends))
	if err != nil {
		return nil, storeError(err)
	}

	var others []string
	for _, f := range all {
		if f.IsActive && f.Involves(username) {
			others = append(others, f.Other(username))
		}
	}
	summaries, err := s.identities.Summaries(ctx, others...)
	if err != nil {
		return nil, err
	}

	views := make([]models.FriendView, 0, len(others))
	for _, f := range all {
		if !f.IsActive || !f.Involves(username) {
			continue
		}
		views = append(views, models.FriendView{
			FriendshipID:   f.ID,
			Friend:         summaries[f.Other(username)],
			IsActive:       f.IsActive,
			LastActivityAt: f.LastActivityAt,
			Balance:        f.BalanceFor(username),
		})
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].LastActivityAt.After(views[j].LastActivityAt)
	})
	return views, nil
}

// RemoveFriend deactivates the friendship. Its ledger history is kept and
// a later accepted request reactivates it.
func (s *FriendService) RemoveFriend(ctx context.Context, username, other string) (*models.Friendship, error) {
	f, err := s.ActiveFriendship(ctx, username, other)
	if err != nil {
		return nil, err
	}
	now := s.now()
	updated, err := s.friendships.Update(ctx, f.ID, func(f *models.Friendship) error {
		if !f.IsActive {
			return models.NewRelationshipError("You are not friends with " + other)
		}
		f.IsActive = false
		f.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, storeError(err)
	}
	if updated == nil {
		return nil, models.NewNotFoundError("Friendship", f.ID)
	}
	return updated, nil
}
