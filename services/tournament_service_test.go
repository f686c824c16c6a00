package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"chum-ledger/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCrediter records prize credits without a ledger.
type fakeCrediter struct {
	mu      sync.Mutex
	credits map[string]decimal.Decimal
	failFor map[string]bool
}

func newFakeCrediter() *fakeCrediter {
	return &fakeCrediter{
		credits: make(map[string]decimal.Decimal),
		failFor: make(map[string]bool),
	}
}

func (f *fakeCrediter) CreditPrize(_ context.Context, wallet string, prize decimal.Decimal, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[wallet] {
		return assert.AnError
	}
	f.credits[wallet] = f.credits[wallet].Add(prize)
	return nil
}

func newTestTournaments() (*TournamentService, *fakeChain, *fakeCrediter) {
	chain := newFakeChain()
	credit := newFakeCrediter()
	svc := NewTournamentService(nil, chain, credit, 25000)
	return svc, chain, credit
}

func TestStartRejectsSecondTournament(t *testing.T) {
	svc, _, _ := newTestTournaments()

	first, err := svc.Start("Summer Slam", 24, decimal.NewFromInt(10000))
	require.NoError(t, err)
	assert.Contains(t, first.ID, "summer-slam-")

	_, err = svc.Start("Another One", 1, decimal.NewFromInt(500))
	assert.ErrorIs(t, err, ErrTournamentActive)
}

func TestStartRejectsExpiredButUnstoppedSlot(t *testing.T) {
	svc, _, _ := newTestTournaments()

	tm, err := svc.Start("Flash Cup", 1, decimal.NewFromInt(100))
	require.NoError(t, err)
	tm.EndTime = time.Now().Add(-time.Minute)

	// Expired is not gone: the slot must be stopped first.
	_, err = svc.Start("Next Cup", 1, decimal.NewFromInt(100))
	assert.ErrorIs(t, err, ErrTournamentActive)
	assert.NotNil(t, svc.ExpiredUnstopped())
}

func TestStartValidatesInputs(t *testing.T) {
	svc, _, _ := newTestTournaments()

	_, err := svc.Start("", 1, decimal.NewFromInt(100))
	assert.Error(t, err)
	_, err = svc.Start("Cup", 0, decimal.NewFromInt(100))
	assert.Error(t, err)
	_, err = svc.Start("Cup", 1, decimal.Zero)
	assert.Error(t, err)
}

func TestRegisterEligibility(t *testing.T) {
	svc, chain, _ := newTestTournaments()
	ctx := context.Background()

	_, err := svc.Register(ctx, "WalletReg1")
	assert.ErrorIs(t, err, ErrNoTournament)

	_, err = svc.Start("Open Cup", 24, decimal.NewFromInt(1000))
	require.NoError(t, err)

	chain.setBalance("WalletPoor1", 24999)
	_, err = svc.Register(ctx, "WalletPoor1")
	assert.ErrorIs(t, err, ErrIneligible)

	chain.setBalance("WalletReg1", 25000)
	reg, err := svc.Register(ctx, "WalletReg1")
	require.NoError(t, err)
	assert.True(t, reg.BalanceAtRegistration.Equal(decimal.NewFromInt(25000)))

	// Idempotent: same registration comes back.
	again, err := svc.Register(ctx, "WalletReg1")
	require.NoError(t, err)
	assert.Same(t, reg, again)

	// A later balance drop does not unregister; scores still count.
	chain.setBalance("WalletReg1", 0)
	assert.True(t, svc.RecordScore("WalletReg1", 100))
}

func TestRegisterRejectsExpiredTournament(t *testing.T) {
	svc, chain, _ := newTestTournaments()
	ctx := context.Background()

	tm, err := svc.Start("Short Cup", 1, decimal.NewFromInt(100))
	require.NoError(t, err)
	tm.EndTime = time.Now().Add(-time.Minute)

	chain.setBalance("WalletLate1", 30000)
	_, err = svc.Register(ctx, "WalletLate1")
	assert.ErrorIs(t, err, ErrTournamentExpired)
}

func TestRecordScoreSemantics(t *testing.T) {
	svc, chain, _ := newTestTournaments()
	ctx := context.Background()

	assert.False(t, svc.RecordScore("WalletScore1", 100), "no tournament")

	tm, err := svc.Start("Score Cup", 24, decimal.NewFromInt(1000))
	require.NoError(t, err)

	assert.False(t, svc.RecordScore("WalletScore1", 100), "not registered")

	chain.setBalance("WalletScore1", 30000)
	_, err = svc.Register(ctx, "WalletScore1")
	require.NoError(t, err)

	assert.True(t, svc.RecordScore("WalletScore1", 300))
	assert.True(t, svc.RecordScore("WalletScore1", 500))
	assert.True(t, svc.RecordScore("WalletScore1", 200))

	sc := tm.Scores["WalletScore1"]
	require.NotNil(t, sc)
	assert.Equal(t, int64(500), sc.BestScore, "best score, never a sum")
	assert.Equal(t, int64(3), sc.GamesPlayed)
	assert.Len(t, sc.AllScores, 3)

	// Expired tournaments stop accepting scores.
	tm.EndTime = time.Now().Add(-time.Minute)
	assert.False(t, svc.RecordScore("WalletScore1", 999))
	assert.Equal(t, int64(500), sc.BestScore)
}

func TestRecordScoreBoundsScoreLog(t *testing.T) {
	svc, chain, _ := newTestTournaments()
	ctx := context.Background()

	tm, err := svc.Start("Grind Cup", 24, decimal.NewFromInt(1000))
	require.NoError(t, err)
	chain.setBalance("WalletGrind1", 30000)
	_, err = svc.Register(ctx, "WalletGrind1")
	require.NoError(t, err)

	for i := 0; i < maxScoresPerWallet+20; i++ {
		svc.RecordScore("WalletGrind1", int64(i))
	}

	sc := tm.Scores["WalletGrind1"]
	assert.Len(t, sc.AllScores, maxScoresPerWallet, "score log is bounded")
	assert.Equal(t, int64(maxScoresPerWallet+20), sc.GamesPlayed, "counter keeps the true total")
	assert.Equal(t, int64(maxScoresPerWallet+19), sc.BestScore)
	assert.Equal(t, int64(20), sc.AllScores[0], "oldest scores dropped first")
}

func TestComputeResultsTieBreaksByFirstScore(t *testing.T) {
	svc, chain, _ := newTestTournaments()
	ctx := context.Background()

	_, err := svc.Start("Tie Cup", 24, decimal.NewFromInt(1000))
	require.NoError(t, err)

	for _, w := range []string{"WalletA", "WalletB", "WalletC"} {
		chain.setBalance(w, 30000)
		_, err := svc.Register(ctx, w)
		require.NoError(t, err)
	}

	// A scores first but low; B reaches 250 before C does.
	svc.RecordScore("WalletA", 100)
	svc.RecordScore("WalletB", 250)
	svc.RecordScore("WalletC", 250)

	result, err := svc.Settle(ctx)
	require.NoError(t, err)
	require.Len(t, result.Winners, 3)
	assert.Equal(t, "WalletB", result.Winners[0].Wallet)
	assert.Equal(t, "WalletC", result.Winners[1].Wallet)
	assert.Equal(t, "WalletA", result.Winners[2].Wallet)
	assert.Equal(t, 1, result.Winners[0].Rank)
	assert.Equal(t, 3, result.Winners[2].Rank)
}

func TestPrizeFractionSchedule(t *testing.T) {
	total := 300

	// Non-increasing by rank and nonzero for every participant.
	prev := decimal.NewFromInt(1)
	for rank := 1; rank <= total; rank++ {
		f := prizeFraction(rank, total)
		assert.True(t, f.IsPositive(), "rank %d must earn something", rank)
		assert.True(t, f.LessThanOrEqual(prev), "rank %d fraction grew", rank)
		prev = f
	}

	assert.True(t, prizeFraction(1, total).Equal(decimal.RequireFromString("0.20")))
	assert.True(t, prizeFraction(2, total).Equal(decimal.RequireFromString("0.10")))
	assert.True(t, prizeFraction(10, total).Equal(decimal.RequireFromString("0.015")))
	assert.True(t, prizeFraction(25, total).Equal(decimal.RequireFromString("0.008")))
	assert.True(t, prizeFraction(50, total).Equal(decimal.RequireFromString("0.004")))
	assert.True(t, prizeFraction(100, total).Equal(decimal.RequireFromString("0.002")))
	assert.True(t, prizeFraction(101, total).Equal(decimal.RequireFromString("0.0002")))
	assert.True(t, prizeFraction(300, total).Equal(decimal.RequireFromString("0.0001")))
}

func TestPrizeTotalNeverExceedsPool(t *testing.T) {
	for _, total := range []int{1, 3, 10, 100, 500} {
		sum := decimal.Zero
		for rank := 1; rank <= total; rank++ {
			sum = sum.Add(prizeFraction(rank, total))
		}
		assert.True(t, sum.LessThanOrEqual(decimal.NewFromInt(1)), "fractions for %d players sum to %s", total, sum.String())
	}
}

func TestSettleCreditsWinnersAndFreesSlot(t *testing.T) {
	svc, chain, credit := newTestTournaments()
	ctx := context.Background()

	_, err := svc.Settle(ctx)
	assert.ErrorIs(t, err, ErrNoTournament)

	tm, err := svc.Start("Final Cup", 24, decimal.NewFromInt(10000))
	require.NoError(t, err)

	for _, w := range []string{"WalletWin1", "WalletWin2"} {
		chain.setBalance(w, 30000)
		_, err := svc.Register(ctx, w)
		require.NoError(t, err)
	}
	svc.RecordScore("WalletWin1", 900)
	svc.RecordScore("WalletWin2", 400)

	result, err := svc.Settle(ctx)
	require.NoError(t, err)
	assert.Equal(t, tm.ID, result.TournamentID)
	assert.Equal(t, 2, result.TotalPlayers)

	// 20% and 10% of the 10000 pool.
	assert.True(t, credit.credits["WalletWin1"].Equal(decimal.NewFromInt(2000)))
	assert.True(t, credit.credits["WalletWin2"].Equal(decimal.NewFromInt(1000)))
	assert.True(t, result.TotalDistributed.Equal(decimal.NewFromInt(3000)))

	// Slot freed: a new tournament can start.
	_, err = svc.Start("Next Season", 24, decimal.NewFromInt(100))
	assert.NoError(t, err)
}

func TestSettleDistributedTotalMatchesLedgerCredits(t *testing.T) {
	rewards, store, chain := newTestRewards(newMemDocStore())
	svc := NewTournamentService(nil, chain, rewards, 25000)
	ctx := context.Background()

	// Pool chosen so mid-rank prizes fall between points granularity
	// steps (e.g. rank 9 earns 100.5 * 0.0175 = 1.75875 CHUM).
	_, err := svc.Start("Fraction Cup", 24, decimal.RequireFromString("100.5"))
	require.NoError(t, err)

	wallets := []string{
		"WalletRank1", "WalletRank2", "WalletRank3", "WalletRank4", "WalletRank5",
		"WalletRank6", "WalletRank7", "WalletRank8", "WalletRank9",
	}
	for i, w := range wallets {
		chain.setBalance(w, 30000)
		_, err := svc.Register(ctx, w)
		require.NoError(t, err)
		svc.RecordScore(w, int64(1000-i))
	}

	result, err := svc.Settle(ctx)
	require.NoError(t, err)
	require.Len(t, result.Winners, len(wallets))

	rank9, err := store.Get(ctx, "WalletRank9")
	require.NoError(t, err)
	assert.True(t, rank9.PendingRewards.Equal(decimal.RequireFromString("1.75875")),
		"rank 9 credited %s", rank9.PendingRewards)

	// Every winner's ledger carries exactly the computed prize, so the
	// archived distributed total reconciles with the credits.
	credited := decimal.Zero
	store.Walk(func(rec *models.PlayerRecord) {
		credited = credited.Add(rec.PendingRewards)
	})
	assert.True(t, credited.Equal(result.TotalDistributed),
		"credited %s, distributed %s", credited, result.TotalDistributed)
}

func TestSettleContinuesPastFailedCredit(t *testing.T) {
	svc, chain, credit := newTestTournaments()
	ctx := context.Background()

	_, err := svc.Start("Rocky Cup", 24, decimal.NewFromInt(1000))
	require.NoError(t, err)

	for _, w := range []string{"WalletFail1", "WalletOK1"} {
		chain.setBalance(w, 30000)
		_, err := svc.Register(ctx, w)
		require.NoError(t, err)
	}
	svc.RecordScore("WalletFail1", 500)
	svc.RecordScore("WalletOK1", 100)
	credit.failFor["WalletFail1"] = true

	result, err := svc.Settle(ctx)
	require.NoError(t, err)
	assert.Len(t, result.Winners, 2)

	// Runner-up still got paid.
	assert.True(t, credit.credits["WalletOK1"].Equal(decimal.NewFromInt(100)))
	_, paid := credit.credits["WalletFail1"]
	assert.False(t, paid)
}
