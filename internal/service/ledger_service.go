package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"tally/internal/models"
	"tally/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const maxDescriptionLength = 280

// LedgerService is the ledger entry state machine. Every transition runs
// its guards inside the repository's compare-and-swap, so concurrent
// accept, deny and cancel calls on one entry cannot both succeed.
type LedgerService struct {
	entries    repository.LedgerRepository
	friends    *FriendService
	identities *IdentityService
	logger     *slog.Logger
	now        func() time.Time
}

// NewLedgerService returns a new LedgerService.
func NewLedgerService(
	entries repository.LedgerRepository,
	friends *FriendService,
	identities *IdentityService,
	logger *slog.Logger,
) *LedgerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerService{
		entries:    entries,
		friends:    friends,
		identities: identities,
		logger:     logger,
		now:        utcNow,
	}
}

// Create records an entry from sender to receiver. Negative amounts settle
// immediately; positive ones wait for the receiver.
func (s *LedgerService) Create(ctx context.Context, sender, receiver string, amount *decimal.Decimal, description string) (*models.LedgerEntry, error) {
	if sender == receiver {
		return nil, models.NewValidationError("Cannot record a transaction with yourself")
	}
	description = strings.TrimSpace(description)
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		return nil, models.NewValidationError(fmt.Sprintf("Description must be at most %d characters", maxDescriptionLength))
	}
	normalized, err := models.NormalizeAmount(amount)
	if err != nil {
		return nil, err
	}

	ok, err := s.identities.Exists(ctx, receiver)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.NewNotFoundError("Identity", receiver)
	}
	if _, err := s.friends.ActiveFriendship(ctx, sender, receiver); err != nil {
		return nil, err
	}

	now := s.now()
	entry := &models.LedgerEntry{
		ID:          uuid.NewString(),
		Sender:      sender,
		Receiver:    receiver,
		Amount:      normalized,
		Description: description,
		Status:      models.InitialStatus(normalized),
		CreatedAt:   now,
	}
	if entry.Status == models.EntryStatusCompleted {
		entry.ResolvedAt = &now
	}

	created, err := s.entries.Create(ctx, entry)
	if err != nil {
		return nil, storeError(err)
	}

	s.touch(ctx, created, true)
	return created, nil
}

// Accept completes a pending entry on behalf of its receiver.
func (s *LedgerService) Accept(ctx context.Context, entryID, actor string) (*models.LedgerEntry, error) {
	return s.resolve(ctx, entryID, actor, models.EntryStatusCompleted)
}

// Deny rejects a pending entry on behalf of its receiver.
func (s *LedgerService) Deny(ctx context.Context, entryID, actor string) (*models.LedgerEntry, error) {
	return s.resolve(ctx, entryID, actor, models.EntryStatusRejected)
}

func (s *LedgerService) resolve(ctx context.Context, entryID, actor string, status models.EntryStatus) (*models.LedgerEntry, error) {
	now := s.now()
	updated, err := s.entries.Update(ctx, entryID, func(e *models.LedgerEntry) error {
		if e.Receiver != actor {
			return models.NewAuthorizationError("Only the receiver can respond to this transaction")
		}
		if e.Status != models.EntryStatusPending {
			return models.NewStateError("Transaction is already " + string(e.Status))
		}
		e.Status = status
		e.ResolvedAt = &now
		return nil
	})
	if err != nil {
		return nil, storeError(err)
	}
	if updated == nil {
		return nil, models.NewNotFoundError("Transaction", entryID)
	}

	s.touch(ctx, updated, false)
	return updated, nil
}

// Cancel deletes a pending entry on behalf of its sender and returns the
// removed entry.
func (s *LedgerService) Cancel(ctx context.Context, entryID, actor string) (*models.LedgerEntry, error) {
	var cancelled models.LedgerEntry
	ok, err := s.entries.DeleteIf(ctx, entryID, func(e *models.LedgerEntry) error {
		if e.Sender != actor {
			return models.NewAuthorizationError("Only the sender can cancel this transaction")
		}
		if e.Status != models.EntryStatusPending {
			return models.NewStateError("Transaction is already " + string(e.Status))
		}
		cancelled = *e
		return nil
	})
	if err != nil {
		return nil, storeError(err)
	}
	if !ok {
		return nil, models.NewNotFoundError("Transaction", entryID)
	}
	return &cancelled, nil
}

// MarkCompleted completes a pending entry without an actor check. Marking
// an already completed entry is a no-op; transitioned reports whether this
// call made the change.
func (s *LedgerService) MarkCompleted(ctx context.Context, entryID string) (entry *models.LedgerEntry, transitioned bool, err error) {
	now := s.now()
	var current models.LedgerEntry
	updated, err := s.entries.Update(ctx, entryID, func(e *models.LedgerEntry) error {
		switch e.Status {
		case models.EntryStatusCompleted:
			current = *e
			return errUnchanged
		case models.EntryStatusPending:
			e.Status = models.EntryStatusCompleted
			e.ResolvedAt = &now
			return nil
		default:
			return models.NewStateError("Transaction is already " + string(e.Status))
		}
	})
	if errors.Is(err, errUnchanged) {
		return &current, false, nil
	}
	if err != nil {
		return nil, false, storeError(err)
	}
	if updated == nil {
		return nil, false, models.NewNotFoundError("Transaction", entryID)
	}

	s.touch(ctx, updated, false)
	return updated, true, nil
}

// touch records activity on the pair's friendship and, for an entry that
// just completed, moves the cached balance by its contribution. A freshly
// created entry also marks the friendship active. The cache is never
// authoritative: failures here only log.
func (s *LedgerService) touch(ctx context.Context, entry *models.LedgerEntry, created bool) {
	f, err := s.friends.Friendship(ctx, entry.Sender, entry.Receiver)
	if err != nil || f == nil {
		if err != nil {
			s.logger.WarnContext(ctx, "friendship lookup failed", slog.String("entry_id", entry.ID), slog.String("error", err.Error()))
		}
		return
	}

	now := s.now()
	delta := entry.Contribution(f.UserA)
	_, err = s.friends.friendships.Update(ctx, f.ID, func(f *models.Friendship) error {
		if created {
			f.IsActive = true
		}
		f.LastActivityAt = now
		f.UpdatedAt = now
		f.CachedBalance = f.CachedBalance.Add(delta)
		return nil
	})
	if err != nil {
		s.logger.WarnContext(ctx, "cached balance update failed",
			slog.String("friendship_id", f.ID),
			slog.String("entry_id", entry.ID),
			slog.String("error", err.Error()),
		)
	}
}

// List returns the entries between viewer and counterpart, newest first.
func (s *LedgerService) List(ctx context.Context, viewer, counterpart string) ([]models.LedgerEntry, error) {
	ok, err := s.identities.Exists(ctx, counterpart)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.NewNotFoundError("Identity", counterpart)
	}
	return s.entriesBetween(ctx, viewer, counterpart)
}

func (s *LedgerService) entriesBetween(ctx context.Context, u1, u2 string) ([]models.LedgerEntry, error) {
	entries, err := s.entries.ListMembers(ctx, repository.EntriesSetKey(u1, u2))
	if err != nil {
		return nil, storeError(err)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ID > entries[j].ID
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

// Fold sums the contributions of entries as seen by viewer.
func Fold(entries []models.LedgerEntry, viewer string) decimal.Decimal {
	total := decimal.Zero
	for i := range entries {
		total = total.Add(entries[i].Contribution(viewer))
	}
	return total
}

// Balance computes what counterpart owes viewer from the completed entries
// and rebuilds the friendship's cached balance when it has drifted.
func (s *LedgerService) Balance(ctx context.Context, viewer, counterpart string) (decimal.Decimal, error) {
	entries, err := s.List(ctx, viewer, counterpart)
	if err != nil {
		return decimal.Zero, err
	}
	balance := Fold(entries, viewer)

	f, err := s.friends.Friendship(ctx, viewer, counterpart)
	if err != nil || f == nil {
		return balance, nil
	}
	fromA := Fold(entries, f.UserA)
	if !f.CachedBalance.Equal(fromA) {
		s.logger.InfoContext(ctx, "rebuilding cached balance",
			slog.String("friendship_id", f.ID),
			slog.String("cached", f.CachedBalance.String()),
			slog.String("computed", fromA.String()),
		)
		if _, err := s.friends.friendships.Update(ctx, f.ID, func(f *models.Friendship) error {
			f.CachedBalance = fromA
			return nil
		}); err != nil {
			s.logger.WarnContext(ctx, "cached balance rebuild failed", slog.String("error", err.Error()))
		}
	}
	return balance, nil
}
