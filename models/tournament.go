package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tournament is the single active competitive session. At most one
// exists process-wide; it is archived on settlement.
type Tournament struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	StartTime time.Time       `json:"start_time"`
	EndTime   time.Time       `json:"end_time"`
	PrizePool decimal.Decimal `json:"prize_pool"`

	Registrations map[string]*TournamentRegistration `json:"registrations"`
	Scores        map[string]*TournamentScore        `json:"scores"`

	// Wallets in first-score order. Ranking ties on best score are
	// broken by position in this slice: earlier first submission wins.
	ScoreOrder []string `json:"score_order"`
}

// Expired reports whether the tournament is past its end time but has
// not been stopped yet. Expired tournaments reject scores and
// registrations but still occupy the active slot.
func (t *Tournament) Expired(now time.Time) bool {
	return now.After(t.EndTime)
}

// TournamentRegistration records a wallet joining the tournament.
// Eligibility is checked once here and never re-validated.
type TournamentRegistration struct {
	Wallet                string          `json:"wallet"`
	RegisteredAt          time.Time       `json:"registered_at"`
	BalanceAtRegistration decimal.Decimal `json:"balance_at_registration"`
}

// TournamentScore tracks a registered wallet's scoring activity.
// Ranking uses BestScore only; AllScores is a bounded recent log.
type TournamentScore struct {
	Wallet      string    `json:"wallet"`
	BestScore   int64     `json:"best_score"`
	GamesPlayed int64     `json:"games_played"`
	AllScores   []int64   `json:"all_scores"`
	LastGameAt  time.Time `json:"last_game_at"`
}

// TournamentWinner is one ranked participant with their computed prize.
type TournamentWinner struct {
	Rank      int             `json:"rank"`
	Wallet    string          `json:"wallet"`
	BestScore int64           `json:"best_score"`
	Prize     decimal.Decimal `json:"prize"`
}

// TournamentResult is the output of the final standings computation.
type TournamentResult struct {
	TournamentID     string             `json:"tournament_id"`
	TotalPlayers     int                `json:"total_players"`
	TotalDistributed decimal.Decimal    `json:"total_distributed"`
	Winners          []TournamentWinner `json:"winners"`
}

// TournamentArchive is the durable row written when a tournament is
// settled. Data holds the full tournament object (registrations and
// raw scores included) as JSON.
// Table name: tournament_archives
type TournamentArchive struct {
	ID               string          `gorm:"column:id;primaryKey" json:"id"`
	Name             string          `gorm:"column:name;not null" json:"name"`
	StartTime        time.Time       `gorm:"column:start_time;not null" json:"start_time"`
	EndTime          time.Time       `gorm:"column:end_time;not null" json:"end_time"`
	PrizePool        decimal.Decimal `gorm:"column:prize_pool;type:numeric(20,9);not null" json:"prize_pool"`
	TotalPlayers     int             `gorm:"column:total_players;not null" json:"total_players"`
	TotalDistributed decimal.Decimal `gorm:"column:total_distributed;type:numeric(20,9);not null" json:"total_distributed"`
	Data             string          `gorm:"column:data;type:jsonb" json:"data,omitempty"`
	SettledAt        time.Time       `gorm:"column:settled_at;not null;index" json:"settled_at"`
}
