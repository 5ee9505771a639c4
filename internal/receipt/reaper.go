package receipt

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// StartSessionReaper schedules ReapSessions on a cron schedule (for example "@every 5m").
// The caller stops the returned scheduler.
func StartSessionReaper(service *Service, schedule string, maxAge time.Duration) (*cron.Cron, error) {
	c := cron.New()

	_, err := c.AddFunc(schedule, func() {
		if n := service.ReapSessions(maxAge); n > 0 {
			slog.Info("Reaped stale ingestion sessions", "count", n, "max_age", maxAge)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("scheduling session reaper %q: %w", schedule, err)
	}

	c.Start()
	return c, nil
}
