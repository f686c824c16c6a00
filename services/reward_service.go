// services/reward_service.go
package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"time"

	"chum-ledger/models"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RewardService owns the points-to-CHUM arithmetic and claim-status
// bookkeeping on player records. All mutations go through the per-wallet
// lock in the ledger store and persist before returning.
type RewardService struct {
	Store *LedgerStore
	DB    *gorm.DB
	Chain BalanceSource

	Tournaments *TournamentService

	PointsPerChum    int64
	MinPointsPerEarn int64
	MinHoldThreshold decimal.Decimal
}

func NewRewardService(store *LedgerStore, db *gorm.DB, chain BalanceSource, pointsPerChum, minPointsPerEarn, minHold int64) *RewardService {
	return &RewardService{
		Store:            store,
		DB:               db,
		Chain:            chain,
		PointsPerChum:    pointsPerChum,
		MinPointsPerEarn: minPointsPerEarn,
		MinHoldThreshold: decimal.NewFromInt(minHold),
	}
}

// ChumForPoints converts a raw score into reward currency.
func (s *RewardService) ChumForPoints(points int64) decimal.Decimal {
	return decimal.NewFromInt(points).Div(decimal.NewFromInt(s.PointsPerChum))
}

// RecordEarn converts points to CHUM and appends an earn entry. Game
// earns below the minimum-points threshold return ErrBelowThreshold
// without touching the record; tournament prize settlement bypasses the
// threshold since the amount is already final.
func (s *RewardService) RecordEarn(ctx context.Context, wallet string, points, score int64, source models.EarnSource, tournamentID string) (*models.EarnEntry, error) {
	if points < 0 {
		return nil, fmt.Errorf("points must be non-negative, got %d", points)
	}
	if source == models.EarnSourceGame && points < s.MinPointsPerEarn {
		return nil, ErrBelowThreshold
	}

	s.Store.Lock(wallet)
	defer s.Store.Unlock(wallet)

	rec, _, err := s.Store.GetOrCreate(ctx, wallet)
	if err != nil {
		return nil, err
	}

	chum := s.ChumForPoints(points)
	now := time.Now().UTC()
	entry := models.EarnEntry{
		SessionID:    models.NewSessionID(),
		Points:       points,
		ChumEarned:   chum,
		Source:       source,
		Timestamp:    now,
		TournamentID: tournamentID,
	}

	rec.EarnHistory = append(rec.EarnHistory, entry)
	rec.TotalEarned = rec.TotalEarned.Add(chum)
	rec.PendingRewards = rec.PendingRewards.Add(chum)
	rec.GamesPlayed++
	rec.LastGameAt = &now

	if err := s.Store.Save(ctx, rec); err != nil {
		return nil, err
	}
	s.auditSession(ctx, &entry, wallet, score)

	return &entry, nil
}

// auditSession writes the permanent session row. Audit failures are
// logged, not surfaced: the ledger is already consistent.
func (s *RewardService) auditSession(ctx context.Context, entry *models.EarnEntry, wallet string, score int64) {
	if s.DB == nil {
		return
	}
	session := models.GameSession{
		SessionID:    entry.SessionID,
		Wallet:       wallet,
		Points:       entry.Points,
		Score:        score,
		ChumEarned:   entry.ChumEarned,
		Source:       string(entry.Source),
		TournamentID: entry.TournamentID,
		CreatedAt:    entry.Timestamp,
	}
	if err := s.DB.WithContext(ctx).Create(&session).Error; err != nil {
		log.Printf("⚠️  Failed to write session audit row %s: %v", entry.SessionID, err)
	}
}

// CreditPrize records a settled tournament prize as pending rewards.
// The prize amount is credited exactly as computed; points are
// back-computed for display only and never fed back through the
// points-to-CHUM conversion, which would quantize the amount.
func (s *RewardService) CreditPrize(ctx context.Context, wallet string, prize decimal.Decimal, tournamentID string) error {
	points := prize.Mul(decimal.NewFromInt(s.PointsPerChum)).Round(0).IntPart()

	s.Store.Lock(wallet)
	defer s.Store.Unlock(wallet)

	rec, _, err := s.Store.GetOrCreate(ctx, wallet)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	entry := models.EarnEntry{
		SessionID:    models.NewSessionID(),
		Points:       points,
		ChumEarned:   prize,
		Source:       models.EarnSourceTournament,
		Timestamp:    now,
		TournamentID: tournamentID,
	}

	rec.EarnHistory = append(rec.EarnHistory, entry)
	rec.TotalEarned = rec.TotalEarned.Add(prize)
	rec.PendingRewards = rec.PendingRewards.Add(prize)
	rec.LastGameAt = &now

	if err := s.Store.Save(ctx, rec); err != nil {
		return err
	}
	s.auditSession(ctx, &entry, wallet, 0)
	return nil
}

// ResolveClaimAmount picks the amount a claim will transfer. A positive
// requested amount within pending is a partial claim; more than pending
// is rejected, never clamped; zero or negative falls back to claim-all.
func (s *RewardService) ResolveClaimAmount(rec *models.PlayerRecord, requested decimal.Decimal) (decimal.Decimal, error) {
	if requested.IsPositive() {
		if requested.GreaterThan(rec.PendingRewards) {
			return decimal.Zero, ErrInsufficientPending
		}
		return requested, nil
	}
	return rec.PendingRewards, nil
}

// MarkClaimed settles amount against the ledger after the transfer is
// confirmed on-chain. The history walk is FIFO: oldest unclaimed entries
// are consumed first; an entry larger than the remaining amount is split
// so claimed and pending value stay exact per entry. The caller must
// hold the wallet lock.
func (s *RewardService) MarkClaimed(rec *models.PlayerRecord, amount decimal.Decimal, claimID, signature string) {
	now := time.Now().UTC()

	rec.PendingRewards = rec.PendingRewards.Sub(amount)
	if rec.PendingRewards.IsNegative() {
		rec.PendingRewards = decimal.Zero
	}
	rec.TotalClaimed = rec.TotalClaimed.Add(amount)
	rec.LastClaimAt = &now

	remaining := amount
	for i := range rec.EarnHistory {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		e := &rec.EarnHistory[i]
		if e.Claimed {
			continue
		}

		if e.ChumEarned.LessThanOrEqual(remaining) {
			e.Claimed = true
			e.ClaimedAt = &now
			e.ClaimID = claimID
			e.Signature = signature
			remaining = remaining.Sub(e.ChumEarned)
			continue
		}

		// Split: the entry is worth more than what is left to settle.
		residual := e.ChumEarned.Sub(remaining)
		residualPoints := decimal.NewFromInt(e.Points).Mul(residual).Div(e.ChumEarned).Round(0).IntPart()

		e.Claimed = true
		e.ClaimedAt = &now
		e.ClaimID = claimID
		e.Signature = signature
		e.ClaimedAmount = remaining
		e.RemainingAmount = residual

		rec.EarnHistory = append(rec.EarnHistory, models.EarnEntry{
			SessionID:         models.NewSessionID(),
			Points:            residualPoints,
			ChumEarned:        residual,
			Source:            e.Source,
			Timestamp:         now,
			IsRemainder:       true,
			OriginalSessionID: e.SessionID,
			TournamentID:      e.TournamentID,
		})
		remaining = decimal.Zero
		break
	}

	// Entries truncated from the durable copy before a delayed confirm
	// can leave remaining > 0 here; totals above already moved, so the
	// per-entry marking degrades gracefully.
	if remaining.IsPositive() {
		log.Printf("⚠️  Claim %s for %s: %s CHUM had no matching history entries (truncated?)", claimID, rec.Wallet, remaining.String())
	}
}

// --- Handlers ---

// VerifyPlayer checks on-chain eligibility and lazily creates the
// player record for eligible wallets.
func (s *RewardService) VerifyPlayer(c *fiber.Ctx) error {
	var req struct {
		Wallet string `json:"wallet"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if !s.Chain.IsValidAddress(req.Wallet) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": ErrInvalidWallet.Error()})
	}

	balance, err := s.Chain.TokenBalance(c.Context(), req.Wallet)
	if err != nil {
		log.Printf("❌ Balance lookup failed for %s: %v", req.Wallet, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "balance lookup failed"})
	}

	eligible := balance.GreaterThanOrEqual(s.MinHoldThreshold)
	resp := fiber.Map{
		"wallet":   req.Wallet,
		"eligible": eligible,
		"balance":  balance,
		"required": s.MinHoldThreshold,
	}
	if !eligible {
		resp["deficit"] = s.MinHoldThreshold.Sub(balance)
		return c.JSON(resp)
	}

	s.Store.Lock(req.Wallet)
	defer s.Store.Unlock(req.Wallet)

	rec, _, err := s.Store.GetOrCreate(c.Context(), req.Wallet)
	if err != nil {
		log.Printf("❌ Failed to load player %s: %v", req.Wallet, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load player record"})
	}
	now := time.Now().UTC()
	rec.VerifiedAt = &now
	rec.Balance = balance
	if err := s.Store.Save(c.Context(), rec); err != nil {
		log.Printf("❌ Failed to save player %s: %v", req.Wallet, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to save player record"})
	}

	resp["pending_rewards"] = rec.PendingRewards
	resp["total_earned"] = rec.TotalEarned
	resp["total_claimed"] = rec.TotalClaimed
	return c.JSON(resp)
}

// RecordScore accepts a finished game: converts points into pending
// rewards and, when a tournament is running and the wallet is
// registered, feeds the score to the tournament as well.
func (s *RewardService) RecordScore(c *fiber.Ctx) error {
	var req struct {
		Wallet string `json:"wallet"`
		Points int64  `json:"points"`
		Score  int64  `json:"score"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if !s.Chain.IsValidAddress(req.Wallet) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": ErrInvalidWallet.Error()})
	}
	if req.Points < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "points must be non-negative"})
	}

	chumEarned := decimal.Zero
	entry, err := s.RecordEarn(c.Context(), req.Wallet, req.Points, req.Score, models.EarnSourceGame, "")
	switch {
	case err == nil:
		chumEarned = entry.ChumEarned
	case err == ErrBelowThreshold:
		// No reward below the threshold; the score may still count for
		// an active tournament.
	default:
		log.Printf("❌ Failed to record earn for %s: %v", req.Wallet, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to record score"})
	}

	tournamentAccepted := false
	if s.Tournaments != nil {
		tournamentAccepted = s.Tournaments.RecordScore(req.Wallet, req.Points)
	}

	rec, _ := s.Store.Get(c.Context(), req.Wallet)
	resp := fiber.Map{
		"tournament_accepted": tournamentAccepted,
		"chum_earned":         chumEarned,
		"below_threshold":     err == ErrBelowThreshold,
	}
	if entry != nil {
		resp["session_id"] = entry.SessionID
	}
	if rec != nil {
		resp["pending_rewards"] = rec.PendingRewards
		resp["total_earned"] = rec.TotalEarned
		resp["games_played"] = rec.GamesPlayed
	}
	return c.JSON(resp)
}

// GetPlayer returns the full record with a bounded recent-history window.
func (s *RewardService) GetPlayer(c *fiber.Ctx) error {
	wallet := c.Params("wallet")
	if !s.Chain.IsValidAddress(wallet) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": ErrInvalidWallet.Error()})
	}

	rec, err := s.Store.Get(c.Context(), wallet)
	if err != nil {
		log.Printf("❌ Failed to load player %s: %v", wallet, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load player record"})
	}
	if rec == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": ErrPlayerNotFound.Error()})
	}

	return c.JSON(fiber.Map{
		"wallet":          rec.Wallet,
		"balance":         rec.Balance,
		"total_earned":    rec.TotalEarned,
		"total_claimed":   rec.TotalClaimed,
		"pending_rewards": rec.PendingRewards,
		"games_played":    rec.GamesPlayed,
		"last_game_at":    rec.LastGameAt,
		"last_claim_at":   rec.LastClaimAt,
		"verified_at":     rec.VerifiedAt,
		"recent_history":  rec.RecentHistory(10),
	})
}

// Leaderboard ranks players by lifetime earnings, wallets masked.
func (s *RewardService) Leaderboard(c *fiber.Ctx) error {
	limit := 10
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid limit parameter"})
		}
		limit = n
	}
	if limit > 100 {
		limit = 100
	}

	type row struct {
		Wallet      string          `json:"wallet"`
		TotalEarned decimal.Decimal `json:"total_earned"`
		GamesPlayed int64           `json:"games_played"`
	}
	var rows []row
	s.Store.Walk(func(rec *models.PlayerRecord) {
		if rec.TotalEarned.IsZero() {
			return
		}
		rows = append(rows, row{
			Wallet:      models.MaskWallet(rec.Wallet),
			TotalEarned: rec.TotalEarned,
			GamesPlayed: rec.GamesPlayed,
		})
	})
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].TotalEarned.GreaterThan(rows[j].TotalEarned)
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}

	return c.JSON(fiber.Map{"leaderboard": rows, "count": len(rows)})
}
