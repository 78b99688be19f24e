// Package retention prunes old audit rows on a schedule. Retention is
// age-based and leaves append semantics untouched; it only deletes rows past
// the configured horizon.
package retention

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/keypool-dev/geminipool/internal/store"
)

// schedule runs the prune daily at 04:30 local time, outside typical usage.
const schedule = "30 4 * * *"

// Start launches the retention job when days > 0 and returns a stop
// function. With days <= 0 retention is disabled and stop is a no-op.
func Start(s *store.Store, days int) (stop func()) {
	if days <= 0 {
		return func() {}
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		cutoff := time.Now().AddDate(0, 0, -days)
		deleted, errPrune := s.PruneLogsBefore(ctx, cutoff)
		if errPrune != nil {
			log.Errorf("request log retention failed: %v", errPrune)
			return
		}
		if deleted > 0 {
			log.Infof("request log retention removed %d rows older than %d days", deleted, days)
		}
	})
	if err != nil {
		log.Errorf("failed to schedule request log retention: %v", err)
		return func() {}
	}

	c.Start()
	log.Infof("request log retention enabled: %d days", days)
	return func() { c.Stop() }
}
