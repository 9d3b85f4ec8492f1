// Command main seeds demo identities, friendships and ledger entries.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"tally/internal/cache"
	"tally/internal/config"
	"tally/internal/database"
	"tally/internal/middleware"
	"tally/internal/repository"
	"tally/internal/seed"
	"tally/internal/service"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	numIdentities := flag.Int("identities", 10, "Number of identities to create")
	ratio := flag.Float64("friend-ratio", 0.4, "Chance that two identities are friends")
	entries := flag.Int("entries", 5, "Ledger entries per friendship")
	seedValue := flag.Int64("seed", 0, "Random seed (0 = random)")
	fast := flag.Bool("fast", true, "Use the minimum bcrypt cost")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	client, err := cache.NewClient(cfg.RedisURL, cfg.StoreTimeout)
	if err != nil {
		log.Fatalf("Failed to create redis client: %v", err)
	}
	defer client.Close()

	stores := repository.NewStores(client, db, repository.Options{
		StoreTimeout:  cfg.StoreTimeout,
		MirrorTimeout: cfg.MirrorTimeout,
	})
	identityRepo := repository.NewIdentityRepository(stores)
	friendshipRepo := repository.NewFriendshipRepository(stores)
	requestRepo := repository.NewRequestRepository(stores)
	entryRepo := repository.NewLedgerRepository(stores)

	identities := service.NewIdentityService(identityRepo)
	if *fast {
		identities.WithHashCost(bcrypt.MinCost)
	}
	friends := service.NewFriendService(requestRepo, friendshipRepo, identities)
	ledger := service.NewLedgerService(entryRepo, friends, identities, middleware.Logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	sum, err := seed.NewSeeder(identities, friends, ledger, seed.Options{
		Identities:     *numIdentities,
		FriendRatio:    *ratio,
		EntriesPerPair: *entries,
		Seed:           *seedValue,
	}).Run(ctx)
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}

	// let the secondary catch up before exiting
	identityRepo.Wait()
	friendshipRepo.Wait()
	requestRepo.Wait()
	entryRepo.Wait()

	resolver := middleware.NewTokenResolver(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience)
	for _, username := range sum.Identities {
		token, err := resolver.Issue(username, nil)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		log.Printf("%s  %s", username, token)
	}
	log.Printf("All seeded identities use the password %q", seed.DefaultPassword)
}
