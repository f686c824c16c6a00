package services

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// Operation failures surfaced to HTTP callers. Every rejection happens
// before any ledger mutation, so none of these require rollback.
var (
	ErrInvalidWallet       = errors.New("invalid wallet address")
	ErrIneligible          = errors.New("token balance below minimum hold threshold")
	ErrPlayerNotFound      = errors.New("player record not found")
	ErrNothingPending      = errors.New("no pending rewards to claim")
	ErrInsufficientPending = errors.New("claim amount exceeds pending rewards")
	ErrVaultUnavailable    = errors.New("vault account unavailable or underfunded")
	ErrUnconfirmed         = errors.New("transaction not yet confirmed")
	ErrClaimNotFound       = errors.New("claim not found or expired")
	ErrAmountMismatch      = errors.New("amount does not match the built claim")
	ErrBelowThreshold      = errors.New("points below minimum earn threshold")

	ErrTournamentActive  = errors.New("a tournament is already active")
	ErrNoTournament      = errors.New("no active tournament")
	ErrTournamentExpired = errors.New("tournament has ended")
)

// statusForErr maps operation failures to HTTP status codes.
// Unknown errors fall through to 500 at the handler.
func statusForErr(err error) int {
	switch {
	case errors.Is(err, ErrInvalidWallet):
		return fiber.StatusBadRequest
	case errors.Is(err, ErrIneligible):
		return fiber.StatusForbidden
	case errors.Is(err, ErrPlayerNotFound), errors.Is(err, ErrClaimNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ErrNothingPending), errors.Is(err, ErrInsufficientPending), errors.Is(err, ErrAmountMismatch):
		return fiber.StatusBadRequest
	case errors.Is(err, ErrVaultUnavailable):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, ErrUnconfirmed):
		// Retryable: the caller should confirm again later.
		return fiber.StatusAccepted
	case errors.Is(err, ErrTournamentActive):
		return fiber.StatusConflict
	case errors.Is(err, ErrNoTournament):
		return fiber.StatusNotFound
	case errors.Is(err, ErrTournamentExpired):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}
