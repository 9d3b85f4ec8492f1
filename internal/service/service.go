// Package service holds the ledger's business rules: identities,
// relationship requests and friendships, and the ledger entry state machine.
package service

import (
	"errors"
	"time"

	"tally/internal/models"
	"tally/internal/repository"
)

// errUnchanged aborts a compare-and-swap whose patch found nothing to do.
var errUnchanged = errors.New("unchanged")

// storeError maps repository errors onto the client-facing taxonomy.
func storeError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, repository.ErrContention) {
		return models.NewStateError("The record is being modified concurrently, please retry")
	}
	return models.NewInternalError(err)
}

func utcNow() time.Time {
	return time.Now().UTC()
}
