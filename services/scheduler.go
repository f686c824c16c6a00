// services/scheduler.go
package services

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartMaintenanceScheduler runs the periodic background jobs: a flush
// of ledger records whose durable write was never confirmed, and a
// warning for a tournament sitting expired without an explicit stop.
func StartMaintenanceScheduler(store *LedgerStore, tournaments *TournamentService) {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(2*time.Minute),
		gocron.NewTask(func() {
			if n := store.FlushDirty(context.Background()); n > 0 {
				log.Printf("[Scheduler] Flushed %d dirty player record(s)", n)
			}
		}),
	)

	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			if t := tournaments.ExpiredUnstopped(); t != nil {
				log.Printf("[Scheduler] Tournament %s expired at %s and is still unstopped; scores are rejected until an admin stops it", t.ID, t.EndTime.Format(time.RFC3339))
			}
		}),
	)
}
