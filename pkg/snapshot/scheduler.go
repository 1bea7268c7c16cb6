package snapshot

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/wachiwi/picam/pkg/logger"
)

// Scheduler takes snapshots on a cron schedule and saves them.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler runs a capture on every tick of spec (standard cron syntax or
// descriptors such as "@every 1m"). A run is skipped while the previous one
// is still going.
func NewScheduler(spec string, h *Handler, saver *Saver) (*Scheduler, error) {
	cl := &logger.CronLogger{Logger: slog.Default().With("component", "snapshot-scheduler")}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.SkipIfStillRunning(cl)),
	)

	_, err := c.AddFunc(spec, func() {
		f, err := h.Capture(context.Background())
		if err != nil {
			slog.Warn("Scheduled snapshot failed", "error", err)
			return
		}
		if _, err := saver.Save(f); err != nil {
			slog.Warn("Failed to save scheduled snapshot", "error", err)
		}
	})
	if err != nil {
		return nil, err
	}
	return &Scheduler{cron: c}, nil
}

// Start starts the schedule in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the schedule and waits for a running capture to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
