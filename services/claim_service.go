package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	confirmAttempts = 2
	claimTTL        = 30 * time.Minute
)

type pendingClaim struct {
	Wallet    string
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// ClaimBuild is the build-phase result the player co-signs.
type ClaimBuild struct {
	ClaimID     string              `json:"claim_id"`
	Amount      decimal.Decimal     `json:"amount"`
	Transaction *TransferDescriptor `json:"transaction"`
}

// ClaimService orchestrates the two-phase claim: build a vault transfer
// without touching the ledger, then mutate the ledger only after the
// transfer is observed on-chain. A failed or abandoned claim leaves the
// rewards pending and reclaimable.
type ClaimService struct {
	Store   *LedgerStore
	Ledger  *RewardService
	Chain   BalanceSource
	Gateway TransferGateway
	MinHold decimal.Decimal

	// PollDelay is the wait between confirmation attempts; tests
	// shorten it.
	PollDelay time.Duration

	mu        sync.Mutex
	pending   map[string]*pendingClaim
	confirmed map[string]time.Time
}

func NewClaimService(store *LedgerStore, ledger *RewardService, chain BalanceSource, gateway TransferGateway, minHold int64) *ClaimService {
	return &ClaimService{
		Store:     store,
		Ledger:    ledger,
		Chain:     chain,
		Gateway:   gateway,
		MinHold:   decimal.NewFromInt(minHold),
		PollDelay: 2 * time.Second,
		pending:   make(map[string]*pendingClaim),
		confirmed: make(map[string]time.Time),
	}
}

// Build verifies eligibility, resolves the claim amount, and has the
// vault signer construct a partially-signed transfer. No ledger state
// changes here; failures need no rollback.
func (s *ClaimService) Build(ctx context.Context, wallet string, requested decimal.Decimal) (*ClaimBuild, error) {
	if !s.Chain.IsValidAddress(wallet) {
		return nil, ErrInvalidWallet
	}

	s.Store.Lock(wallet)
	defer s.Store.Unlock(wallet)

	rec, err := s.Store.Get(ctx, wallet)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrPlayerNotFound
	}
	if !rec.PendingRewards.IsPositive() {
		return nil, ErrNothingPending
	}

	// Pending rewards do not entitle a wallet whose holdings have since
	// dropped below the threshold; re-verification is mandatory.
	balance, err := s.Chain.TokenBalance(ctx, wallet)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(s.MinHold) {
		return nil, ErrIneligible
	}

	amount, err := s.Ledger.ResolveClaimAmount(rec, requested)
	if err != nil {
		return nil, err
	}

	vault, err := s.Gateway.VaultBalance(ctx)
	if err != nil {
		return nil, ErrVaultUnavailable
	}
	if vault.LessThan(amount) {
		log.Printf("❌ Vault underfunded: have %s, need %s", vault.String(), amount.String())
		return nil, ErrVaultUnavailable
	}

	desc, err := s.Gateway.BuildTransfer(ctx, wallet, amount)
	if err != nil {
		return nil, err
	}

	claimID := uuid.NewString()
	s.mu.Lock()
	s.pruneLocked()
	s.pending[claimID] = &pendingClaim{
		Wallet:    wallet,
		Amount:    amount,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Unlock()

	log.Printf("💸 Claim %s built for %s: %s CHUM", claimID, wallet, amount.String())
	return &ClaimBuild{ClaimID: claimID, Amount: amount, Transaction: desc}, nil
}

// Confirm polls for on-chain confirmation of the co-signed transfer and
// settles the ledger only once it is visible. An unconfirmed transfer
// returns ErrUnconfirmed with no mutation; the caller retries later.
// A positive requested amount must match the built claim exactly.
// Confirming an already-settled claim id is an idempotent no-op.
func (s *ClaimService) Confirm(ctx context.Context, wallet, claimID, signature string, requested decimal.Decimal) (bool, error) {
	s.mu.Lock()
	if _, done := s.confirmed[claimID]; done {
		s.mu.Unlock()
		return true, nil
	}
	pc, ok := s.pending[claimID]
	if !ok || pc.Wallet != wallet {
		s.mu.Unlock()
		return false, ErrClaimNotFound
	}
	if requested.IsPositive() && !requested.Equal(pc.Amount) {
		s.mu.Unlock()
		return false, ErrAmountMismatch
	}
	s.mu.Unlock()

	if !s.awaitConfirmation(ctx, signature) {
		return false, ErrUnconfirmed
	}

	s.Store.Lock(wallet)
	defer s.Store.Unlock(wallet)

	// Another confirm call may have settled this claim while we polled.
	s.mu.Lock()
	if _, done := s.confirmed[claimID]; done {
		s.mu.Unlock()
		return true, nil
	}
	s.mu.Unlock()

	rec, err := s.Store.Get(ctx, wallet)
	if err != nil || rec == nil {
		// The claim stays open; a retry can settle it once the record
		// loads again.
		return false, ErrPlayerNotFound
	}

	s.Ledger.MarkClaimed(rec, pc.Amount, claimID, signature)
	if err := s.Store.Save(ctx, rec); err != nil {
		log.Printf("❌ Failed to persist claim %s for %s: %v", claimID, wallet, err)
	}

	// Retire the claim only after the ledger moved, so a settlement
	// failure never strands a claim in the confirmed set.
	s.mu.Lock()
	delete(s.pending, claimID)
	s.confirmed[claimID] = time.Now().UTC()
	s.mu.Unlock()

	log.Printf("✅ Claim %s confirmed for %s: %s CHUM (sig %s)", claimID, wallet, pc.Amount.String(), signature)
	return true, nil
}

// awaitConfirmation makes a bounded number of status checks with a
// short delay, then falls back to a transaction lookup by signature.
func (s *ClaimService) awaitConfirmation(ctx context.Context, signature string) bool {
	for attempt := 0; attempt < confirmAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(s.PollDelay):
			}
		}
		status, err := s.Gateway.ConfirmationStatus(ctx, signature)
		if err != nil {
			log.Printf("⚠️  Status check failed for %s: %v", signature, err)
			continue
		}
		if status == "confirmed" || status == "finalized" {
			return true
		}
	}

	found, err := s.Gateway.FindTransaction(ctx, signature)
	if err != nil {
		log.Printf("⚠️  Fallback lookup failed for %s: %v", signature, err)
		return false
	}
	return found
}

// pruneLocked drops stale unconsumed claims and old confirmation
// markers. Caller holds s.mu.
func (s *ClaimService) pruneLocked() {
	cutoff := time.Now().Add(-claimTTL)
	for id, pc := range s.pending {
		if pc.CreatedAt.Before(cutoff) {
			delete(s.pending, id)
		}
	}
	for id, at := range s.confirmed {
		if at.Before(cutoff) {
			delete(s.confirmed, id)
		}
	}
}

// --- Handlers ---

func (s *ClaimService) BuildClaim(c *fiber.Ctx) error {
	var req struct {
		Wallet string          `json:"wallet"`
		Amount decimal.Decimal `json:"amount"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}

	build, err := s.Build(c.Context(), req.Wallet, req.Amount)
	if err != nil {
		resp := fiber.Map{"error": err.Error()}
		switch err {
		case ErrIneligible:
			resp["required"] = s.MinHold
		case ErrInsufficientPending:
			if rec, getErr := s.Store.Get(c.Context(), req.Wallet); getErr == nil && rec != nil {
				resp["pending_rewards"] = rec.PendingRewards
			}
		}
		if statusForErr(err) == fiber.StatusInternalServerError {
			log.Printf("❌ Claim build failed for %s: %v", req.Wallet, err)
			resp["error"] = "claim build failed"
		}
		return c.Status(statusForErr(err)).JSON(resp)
	}
	return c.JSON(build)
}

func (s *ClaimService) ConfirmClaim(c *fiber.Ctx) error {
	var req struct {
		Wallet    string          `json:"wallet"`
		ClaimID   string          `json:"claim_id"`
		Signature string          `json:"signature"`
		Amount    decimal.Decimal `json:"amount"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if req.Wallet == "" || req.ClaimID == "" || req.Signature == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "wallet, claim_id, and signature are required"})
	}

	confirmed, err := s.Confirm(c.Context(), req.Wallet, req.ClaimID, req.Signature, req.Amount)
	if err != nil {
		resp := fiber.Map{"error": err.Error(), "confirmed": false}
		if err == ErrUnconfirmed {
			resp["retryable"] = true
		}
		if statusForErr(err) == fiber.StatusInternalServerError {
			log.Printf("❌ Claim confirm failed for %s: %v", req.Wallet, err)
			resp["error"] = "claim confirm failed"
		}
		return c.Status(statusForErr(err)).JSON(resp)
	}

	resp := fiber.Map{"confirmed": confirmed}
	if rec, getErr := s.Store.Get(c.Context(), req.Wallet); getErr == nil && rec != nil {
		resp["pending_rewards"] = rec.PendingRewards
		resp["total_claimed"] = rec.TotalClaimed
		resp["total_earned"] = rec.TotalEarned
	}
	return c.JSON(resp)
}
