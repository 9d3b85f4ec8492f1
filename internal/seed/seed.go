// Package seed generates demo identities, friendships and ledger entries.
// Everything goes through the services, so seeded data lands in both
// stores exactly as live traffic would. Development and testing only.
package seed

import (
	"context"
	"fmt"
	"log"
	"strings"

	"tally/internal/models"
	"tally/internal/service"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
)

// DefaultPassword is the password of every seeded identity.
const DefaultPassword = "password123"

const maxAttemptsPerIdentity = 10

// Options configures a seeding run.
type Options struct {
	Identities int
	// FriendRatio is the chance that any two identities are friends.
	FriendRatio float64
	// EntriesPerPair is the number of entries recorded per friendship.
	EntriesPerPair int
	// Seed makes runs reproducible; 0 picks a random one.
	Seed int64
}

// Summary counts what a run created.
type Summary struct {
	Identities  []string
	Friendships int
	Entries     int
	Completed   int
}

// Seeder creates demo data through the services.
type Seeder struct {
	identities *service.IdentityService
	friends    *service.FriendService
	ledger     *service.LedgerService
	faker      *gofakeit.Faker
	opts       Options
}

// NewSeeder returns a Seeder over the given services.
func NewSeeder(identities *service.IdentityService, friends *service.FriendService, ledger *service.LedgerService, opts Options) *Seeder {
	if opts.Identities <= 0 {
		opts.Identities = 10
	}
	if opts.FriendRatio <= 0 || opts.FriendRatio > 1 {
		opts.FriendRatio = 0.4
	}
	if opts.EntriesPerPair < 0 {
		opts.EntriesPerPair = 0
	}
	return &Seeder{
		identities: identities,
		friends:    friends,
		ledger:     ledger,
		faker:      gofakeit.New(opts.Seed),
		opts:       opts,
	}
}

// Run seeds identities, then friendships between random pairs, then
// entries on every friendship.
func (s *Seeder) Run(ctx context.Context) (*Summary, error) {
	sum := &Summary{}

	for attempts := 0; len(sum.Identities) < s.opts.Identities; attempts++ {
		if attempts >= maxAttemptsPerIdentity*s.opts.Identities {
			return sum, fmt.Errorf("gave up after %d registration attempts", attempts)
		}
		identity, err := s.identities.Register(ctx, s.identityInput())
		if models.ErrorCode(err) == models.CodeValidation {
			// taken or unusable fake name, draw again
			continue
		}
		if err != nil {
			return sum, fmt.Errorf("register identity: %w", err)
		}
		sum.Identities = append(sum.Identities, identity.Username)
	}
	log.Printf("seeded %d identities", len(sum.Identities))

	names := sum.Identities
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			if s.faker.Float64() >= s.opts.FriendRatio {
				continue
			}
			if err := s.befriend(ctx, names[i], names[j]); err != nil {
				return sum, err
			}
			sum.Friendships++

			for k := 0; k < s.opts.EntriesPerPair; k++ {
				completed, err := s.entry(ctx, names[i], names[j])
				if err != nil {
					return sum, err
				}
				sum.Entries++
				if completed {
					sum.Completed++
				}
			}
		}
	}
	log.Printf("seeded %d friendships and %d entries (%d completed)", sum.Friendships, sum.Entries, sum.Completed)
	return sum, nil
}

func (s *Seeder) identityInput() service.RegisterInput {
	first, last := s.faker.FirstName(), s.faker.LastName()
	username := sanitizeUsername(fmt.Sprintf("%s.%s%d", first, last, s.faker.Number(10, 999)))
	return service.RegisterInput{
		Username:    username,
		DisplayName: first + " " + last,
		Email:       strings.ToLower(username) + "@example.com",
		Password:    DefaultPassword,
	}
}

func (s *Seeder) befriend(ctx context.Context, u1, u2 string) error {
	req, err := s.friends.SendRequest(ctx, u1, u2)
	if err != nil {
		return fmt.Errorf("friend request %s -> %s: %w", u1, u2, err)
	}
	if _, _, err := s.friends.AcceptRequest(ctx, req.ID, u2); err != nil {
		return fmt.Errorf("accept request %s: %w", req.ID, err)
	}
	return nil
}

// entry records one entry in a random direction. Positive entries are
// accepted, denied or left pending at random.
func (s *Seeder) entry(ctx context.Context, u1, u2 string) (completed bool, err error) {
	sender, receiver := u1, u2
	if s.faker.Bool() {
		sender, receiver = u2, u1
	}

	cents := int64(s.faker.Number(100, 50000))
	if s.faker.Float64() < 0.25 {
		cents = -cents
	}
	amount := decimal.New(cents, -2)

	e, err := s.ledger.Create(ctx, sender, receiver, &amount, s.faker.Sentence(4))
	if err != nil {
		return false, fmt.Errorf("create entry %s -> %s: %w", sender, receiver, err)
	}
	if e.Status == models.EntryStatusCompleted {
		return true, nil
	}

	switch roll := s.faker.Float64(); {
	case roll < 0.6:
		_, err = s.ledger.Accept(ctx, e.ID, receiver)
		return err == nil, err
	case roll < 0.8:
		_, err = s.ledger.Deny(ctx, e.ID, receiver)
		return false, err
	default:
		return false, nil
	}
}

// sanitizeUsername keeps the characters usernames allow and bounds the length.
func sanitizeUsername(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) > 32 {
		out = out[:32]
	}
	return out
}
