package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

const reapTimeout = 30 * time.Second

// scheduleReaper registers a cron job that deletes expired signals on
// schedule, in addition to the reap every empty poll triggers.
func (s *Service) scheduleReaper(schedule string) error {
	logger := cron.PrintfLogger(s.logger)
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(schedule, s.reapNow); err != nil {
		return fmt.Errorf("relay: invalid reaper schedule %q: %w", schedule, err)
	}
	s.reaper = c

	s.AddWorker(func(ctx context.Context) {
		c.Start()
		select {
		case <-ctx.Done():
		case <-s.StopChan():
		}
		<-c.Stop().Done()
	})
	return nil
}

func (s *Service) reapNow() {
	ctx, cancel := context.WithTimeout(context.Background(), reapTimeout)
	defer cancel()

	now := s.now()
	s.reap(ctx, now)
	s.logger.WithContext(ctx).Debug("scheduled reap finished")
}
