package cache

import (
	"context"
	"time"

	"github.com/adhocore/gronx"

	"github.com/aishell/aish/pkg/logger"
)

// Sweeper expires cache entries on a cron schedule so long-lived
// sessions do not accumulate stale results between lazy Get checks.
type Sweeper struct {
	cache    *Cache
	schedule string
	gron     *gronx.Gronx
}

// NewSweeper validates the cron expression and returns a sweeper
// ready to run. An empty schedule is allowed and produces a no-op.
func NewSweeper(c *Cache, schedule string) *Sweeper {
	return &Sweeper{
		cache:    c,
		schedule: schedule,
		gron:     gronx.New(),
	}
}

// Run checks the schedule once a minute until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s.schedule == "" || !s.gron.IsValid(s.schedule) {
		return
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			due, err := s.gron.IsDue(s.schedule, now)
			if err != nil || !due {
				continue
			}
			if dropped := s.cache.Sweep(); dropped > 0 {
				logger.DebugCF("cache", "Swept expired entries", map[string]interface{}{
					"dropped": dropped,
				})
			}
		}
	}
}
