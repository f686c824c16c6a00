package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"chum-ledger/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const maxScoresPerWallet = 100

// PrizeCrediter settles a winner's prize into their reward ledger.
// Implemented by RewardService; stubbed in tests.
type PrizeCrediter interface {
	CreditPrize(ctx context.Context, wallet string, prize decimal.Decimal, tournamentID string) error
}

// TournamentService runs the single-slot tournament lifecycle:
// absent -> active -> (expired) -> settled/archived. A global mutex
// guards the slot; settlement iterates many player records, so start,
// stop, and score recording all serialize on it.
type TournamentService struct {
	DB      *gorm.DB
	Chain   BalanceSource
	Credit  PrizeCrediter
	MinHold decimal.Decimal

	mu     sync.Mutex
	active *models.Tournament
}

func NewTournamentService(db *gorm.DB, chain BalanceSource, credit PrizeCrediter, minHold int64) *TournamentService {
	return &TournamentService{
		DB:      db,
		Chain:   chain,
		Credit:  credit,
		MinHold: decimal.NewFromInt(minHold),
	}
}

// Start opens a new tournament. Fails while any tournament occupies the
// slot, including one past its end time that has not been stopped.
func (s *TournamentService) Start(name string, durationHours float64, prizePool decimal.Decimal) (*models.Tournament, error) {
	if name == "" || durationHours <= 0 || !prizePool.IsPositive() {
		return nil, fmt.Errorf("name, positive duration_hours, and positive prize_pool are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return nil, ErrTournamentActive
	}

	now := time.Now().UTC()
	t := &models.Tournament{
		ID:            slug.Make(name) + "-" + strconv.FormatInt(now.Unix(), 10),
		Name:          name,
		StartTime:     now,
		EndTime:       now.Add(time.Duration(durationHours * float64(time.Hour))),
		PrizePool:     prizePool,
		Registrations: make(map[string]*models.TournamentRegistration),
		Scores:        make(map[string]*models.TournamentScore),
	}
	s.active = t
	log.Printf("🏆 Tournament %s started, ends %s, pool %s CHUM", t.ID, t.EndTime.Format(time.RFC3339), prizePool.String())
	return t, nil
}

// Register adds a wallet to the active tournament. Idempotent for
// already-registered wallets. Balance is checked here and never again:
// a wallet that later drops below the threshold stays registered.
func (s *TournamentService) Register(ctx context.Context, wallet string) (*models.TournamentRegistration, error) {
	s.mu.Lock()
	t := s.active
	if t == nil {
		s.mu.Unlock()
		return nil, ErrNoTournament
	}
	if t.Expired(time.Now()) {
		s.mu.Unlock()
		return nil, ErrTournamentExpired
	}
	if reg, ok := t.Registrations[wallet]; ok {
		s.mu.Unlock()
		return reg, nil
	}
	s.mu.Unlock()

	// Balance lookup is blocking I/O; done outside the slot lock.
	balance, err := s.Chain.TokenBalance(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("balance lookup failed: %w", err)
	}
	if balance.LessThan(s.MinHold) {
		return nil, ErrIneligible
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check: the tournament may have been stopped or expired while
	// the balance call was in flight.
	if s.active != t {
		return nil, ErrNoTournament
	}
	if t.Expired(time.Now()) {
		return nil, ErrTournamentExpired
	}
	if reg, ok := t.Registrations[wallet]; ok {
		return reg, nil
	}

	reg := &models.TournamentRegistration{
		Wallet:                wallet,
		RegisteredAt:          time.Now().UTC(),
		BalanceAtRegistration: balance,
	}
	t.Registrations[wallet] = reg
	return reg, nil
}

// RecordScore feeds one game's points into the tournament. Returns
// false (no-op) when there is no active tournament, the wallet is not
// registered, or the tournament has expired. Best-score-only: the
// ranked score is the max, never a sum.
func (s *TournamentService) RecordScore(wallet string, points int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.active
	if t == nil || t.Expired(time.Now()) {
		return false
	}
	if _, ok := t.Registrations[wallet]; !ok {
		return false
	}

	sc, ok := t.Scores[wallet]
	if !ok {
		sc = &models.TournamentScore{Wallet: wallet}
		t.Scores[wallet] = sc
		t.ScoreOrder = append(t.ScoreOrder, wallet)
	}

	sc.AllScores = append(sc.AllScores, points)
	if len(sc.AllScores) > maxScoresPerWallet {
		sc.AllScores = sc.AllScores[len(sc.AllScores)-maxScoresPerWallet:]
	}
	sc.GamesPlayed++
	if points > sc.BestScore {
		sc.BestScore = points
	}
	sc.LastGameAt = time.Now().UTC()
	return true
}

// ComputeResults ranks every scored wallet by best score descending.
// Ties break by first-score order: whoever reached the board first
// keeps the higher rank.
func (s *TournamentService) ComputeResults(t *models.Tournament) *models.TournamentResult {
	order := make([]string, len(t.ScoreOrder))
	copy(order, t.ScoreOrder)
	sort.SliceStable(order, func(i, j int) bool {
		return t.Scores[order[i]].BestScore > t.Scores[order[j]].BestScore
	})

	result := &models.TournamentResult{
		TournamentID:     t.ID,
		TotalPlayers:     len(order),
		TotalDistributed: decimal.Zero,
	}
	for i, wallet := range order {
		rank := i + 1
		prize := t.PrizePool.Mul(prizeFraction(rank, len(order)))
		result.Winners = append(result.Winners, models.TournamentWinner{
			Rank:      rank,
			Wallet:    wallet,
			BestScore: t.Scores[wallet].BestScore,
			Prize:     prize,
		})
		result.TotalDistributed = result.TotalDistributed.Add(prize)
	}
	return result
}

// Prize schedule: percentages of the pool per rank bucket. Strictly
// non-increasing by rank, with a nonzero amount for every ranked
// participant.
var prizeRanksTwoToTen = []decimal.Decimal{
	decimal.RequireFromString("0.10"),
	decimal.RequireFromString("0.07"),
	decimal.RequireFromString("0.05"),
	decimal.RequireFromString("0.04"),
	decimal.RequireFromString("0.03"),
	decimal.RequireFromString("0.025"),
	decimal.RequireFromString("0.02"),
	decimal.RequireFromString("0.0175"),
	decimal.RequireFromString("0.015"),
}

var (
	prizeRankOne        = decimal.RequireFromString("0.20")
	prizeRank11To25     = decimal.RequireFromString("0.008")
	prizeRank26To50     = decimal.RequireFromString("0.004")
	prizeRank51To100    = decimal.RequireFromString("0.002")
	prizeRestTopHalf    = decimal.RequireFromString("0.0002")
	prizeRestBottomHalf = decimal.RequireFromString("0.0001")
)

func prizeFraction(rank, total int) decimal.Decimal {
	switch {
	case rank == 1:
		return prizeRankOne
	case rank <= 10:
		return prizeRanksTwoToTen[rank-2]
	case rank <= 25:
		return prizeRank11To25
	case rank <= 50:
		return prizeRank26To50
	case rank <= 100:
		return prizeRank51To100
	}
	rest := total - 100
	pos := rank - 100
	if pos <= (rest+1)/2 {
		return prizeRestTopHalf
	}
	return prizeRestBottomHalf
}

// Settle computes final standings, credits each winner's prize into
// pending rewards, archives the tournament, and frees the slot.
func (s *TournamentService) Settle(ctx context.Context) (*models.TournamentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.active
	if t == nil {
		return nil, ErrNoTournament
	}

	result := s.ComputeResults(t)
	for _, w := range result.Winners {
		if !w.Prize.IsPositive() {
			continue
		}
		if err := s.Credit.CreditPrize(ctx, w.Wallet, w.Prize, t.ID); err != nil {
			// Settlement continues: one failed credit must not strand
			// the remaining winners. The archive keeps the raw scores
			// for manual reconciliation.
			log.Printf("❌ Failed to credit %s CHUM to %s: %v", w.Prize.String(), w.Wallet, err)
		}
	}

	s.archive(ctx, t, result)
	s.active = nil
	log.Printf("🏁 Tournament %s settled: %d players, %s CHUM distributed", t.ID, result.TotalPlayers, result.TotalDistributed.String())
	return result, nil
}

func (s *TournamentService) archive(ctx context.Context, t *models.Tournament, result *models.TournamentResult) {
	if s.DB == nil {
		return
	}
	data, err := json.Marshal(t)
	if err != nil {
		log.Printf("⚠️  Failed to encode tournament %s for archive: %v", t.ID, err)
		data = []byte("{}")
	}
	row := models.TournamentArchive{
		ID:               t.ID,
		Name:             t.Name,
		StartTime:        t.StartTime,
		EndTime:          t.EndTime,
		PrizePool:        t.PrizePool,
		TotalPlayers:     result.TotalPlayers,
		TotalDistributed: result.TotalDistributed,
		Data:             string(data),
		SettledAt:        time.Now().UTC(),
	}
	if err := s.DB.WithContext(ctx).Create(&row).Error; err != nil {
		log.Printf("❌ Failed to archive tournament %s: %v", t.ID, err)
	}
}

// ExpiredUnstopped returns the active tournament if it is past its end
// time, for the maintenance scheduler's warning log.
func (s *TournamentService) ExpiredUnstopped() *models.Tournament {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil && s.active.Expired(time.Now()) {
		return s.active
	}
	return nil
}

// --- Handlers ---

func (s *TournamentService) StartTournament(c *fiber.Ctx) error {
	var req struct {
		Name          string          `json:"name"`
		DurationHours float64         `json:"duration_hours"`
		PrizePool     decimal.Decimal `json:"prize_pool"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}

	t, err := s.Start(req.Name, req.DurationHours, req.PrizePool)
	if err != nil {
		return c.Status(statusForErr(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(t)
}

func (s *TournamentService) StopTournament(c *fiber.Ctx) error {
	result, err := s.Settle(c.Context())
	if err != nil {
		return c.Status(statusForErr(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(result)
}

func (s *TournamentService) RegisterPlayer(c *fiber.Ctx) error {
	var req struct {
		Wallet string `json:"wallet"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if !s.Chain.IsValidAddress(req.Wallet) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": ErrInvalidWallet.Error()})
	}

	reg, err := s.Register(c.Context(), req.Wallet)
	if err != nil {
		resp := fiber.Map{"error": err.Error()}
		if err == ErrIneligible {
			resp["required"] = s.MinHold
		}
		return c.Status(statusForErr(err)).JSON(resp)
	}
	return c.JSON(fiber.Map{"registered": true, "registration": reg})
}

// TournamentStatus reports the active slot; safe for public callers.
func (s *TournamentService) TournamentStatus(c *fiber.Ctx) error {
	s.mu.Lock()
	t := s.active
	var snapshot fiber.Map
	if t != nil {
		snapshot = fiber.Map{
			"active":       true,
			"id":           t.ID,
			"name":         t.Name,
			"start_time":   t.StartTime,
			"end_time":     t.EndTime,
			"expired":      t.Expired(time.Now()),
			"prize_pool":   t.PrizePool,
			"players":      len(t.Scores),
			"registered":   len(t.Registrations),
		}
	}
	s.mu.Unlock()

	if snapshot == nil {
		return c.JSON(fiber.Map{"active": false})
	}
	return c.JSON(snapshot)
}

func (s *TournamentService) TournamentHistory(c *fiber.Ctx) error {
	if s.DB == nil {
		return c.JSON(fiber.Map{"tournaments": []models.TournamentArchive{}})
	}

	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid limit parameter"})
		}
		limit = n
	}

	var archives []models.TournamentArchive
	if err := s.DB.WithContext(c.Context()).
		Order("settled_at DESC").
		Limit(limit).
		Find(&archives).Error; err != nil {
		log.Printf("❌ Failed to fetch tournament history: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch history"})
	}
	return c.JSON(fiber.Map{"tournaments": archives})
}
