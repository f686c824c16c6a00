package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// GameSession is the write-once audit row for a single earn event.
// Unlike the JSON earn history (truncated to bound storage growth),
// session rows are kept forever and serve reconciliation queries.
// Table name: game_sessions
type GameSession struct {
	SessionID    string          `gorm:"column:session_id;primaryKey" json:"session_id"`
	Wallet       string          `gorm:"column:wallet;type:varchar(64);not null;index" json:"wallet"`
	Points       int64           `gorm:"column:points;not null" json:"points"`
	Score        int64           `gorm:"column:score;not null" json:"score"`
	ChumEarned   decimal.Decimal `gorm:"column:chum_earned;type:numeric(20,9);not null" json:"chum_earned"`
	Source       string          `gorm:"column:source;type:varchar(16);not null" json:"source"`
	TournamentID string          `gorm:"column:tournament_id;index" json:"tournament_id,omitempty"`
	CreatedAt    time.Time       `gorm:"column:created_at;not null" json:"created_at"`
}
