package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EarnSource indicates what produced an earn entry
type EarnSource string

const (
	EarnSourceGame       EarnSource = "game"
	EarnSourceTournament EarnSource = "tournament"
)

// EarnEntry is one earning event in a player's append-only history.
// Entries are never deleted; a partial claim splits an entry into a
// claimed part and a synthesized remainder entry.
type EarnEntry struct {
	SessionID  string          `json:"session_id"`
	Points     int64           `json:"points"`
	ChumEarned decimal.Decimal `json:"chum_earned"`
	Source     EarnSource      `json:"source"`
	Timestamp  time.Time       `json:"timestamp"`

	Claimed   bool       `json:"claimed"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	ClaimID   string     `json:"claim_id,omitempty"`
	Signature string     `json:"signature,omitempty"`

	// Set only on an entry that was split by a partial claim
	ClaimedAmount   decimal.Decimal `json:"claimed_amount"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`

	// Set only on the synthesized residual entry
	IsRemainder       bool   `json:"is_remainder,omitempty"`
	OriginalSessionID string `json:"original_session_id,omitempty"`

	// Set on tournament prize entries
	TournamentID string `json:"tournament_id,omitempty"`
}

// PlayerRecord is the per-wallet reward ledger. One exists per wallet,
// created lazily on first verification or earn, never deleted.
type PlayerRecord struct {
	Wallet         string          `json:"wallet"`
	Balance        decimal.Decimal `json:"balance"` // last observed, informational only
	TotalEarned    decimal.Decimal `json:"total_earned"`
	TotalClaimed   decimal.Decimal `json:"total_claimed"`
	PendingRewards decimal.Decimal `json:"pending_rewards"`
	GamesPlayed    int64           `json:"games_played"`
	LastGameAt     *time.Time      `json:"last_game_at,omitempty"`
	LastClaimAt    *time.Time      `json:"last_claim_at,omitempty"`
	VerifiedAt     *time.Time      `json:"verified_at,omitempty"`
	EarnHistory    []EarnEntry     `json:"earn_history"`
}

func NewPlayerRecord(wallet string) *PlayerRecord {
	return &PlayerRecord{
		Wallet:         wallet,
		Balance:        decimal.Zero,
		TotalEarned:    decimal.Zero,
		TotalClaimed:   decimal.Zero,
		PendingRewards: decimal.Zero,
		EarnHistory:    []EarnEntry{},
	}
}

// UnclaimedTotal sums the unclaimed value across the history, counting
// split remainders. Used for reconciliation checks against PendingRewards.
func (p *PlayerRecord) UnclaimedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, e := range p.EarnHistory {
		if !e.Claimed {
			total = total.Add(e.ChumEarned)
		}
	}
	return total
}

// RecentHistory returns the newest n entries, newest first.
func (p *PlayerRecord) RecentHistory(n int) []EarnEntry {
	if n <= 0 || len(p.EarnHistory) == 0 {
		return []EarnEntry{}
	}
	start := len(p.EarnHistory) - n
	if start < 0 {
		start = 0
	}
	recent := make([]EarnEntry, 0, len(p.EarnHistory)-start)
	for i := len(p.EarnHistory) - 1; i >= start; i-- {
		recent = append(recent, p.EarnHistory[i])
	}
	return recent
}

// NewSessionID builds a human-debuggable session id embedding the
// creation time and a short random suffix.
func NewSessionID() string {
	return fmt.Sprintf("session_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// MaskWallet shortens a wallet address for public display (leaderboards).
func MaskWallet(wallet string) string {
	if len(wallet) <= 8 {
		return wallet
	}
	return wallet[:4] + "..." + wallet[len(wallet)-4:]
}
