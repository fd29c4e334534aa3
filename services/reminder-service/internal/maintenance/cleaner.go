// Package maintenance prunes finished jobs, published outbox events and old
// delivery records on a cron schedule.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// PurgeFunc deletes rows older than cutoff and returns how many went.
type PurgeFunc func(ctx context.Context, cutoff time.Time) (int64, error)

// Target is one table the cleaner prunes.
type Target struct {
	Name  string
	Purge PurgeFunc
}

type Config struct {
	// Schedule is a standard five-field cron expression.
	Schedule  string
	Retention time.Duration
}

type Cleaner struct {
	cron      *cron.Cron
	schedule  string
	retention time.Duration
	targets   []Target
	logger    *slog.Logger
	now       func() time.Time
}

func NewCleaner(logger *slog.Logger, cfg Config, targets ...Target) (*Cleaner, error) {
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", cfg.Schedule, err)
	}
	if cfg.Retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %s", cfg.Retention)
	}
	return &Cleaner{
		cron:      cron.New(),
		schedule:  cfg.Schedule,
		retention: cfg.Retention,
		targets:   targets,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Run starts the schedule and blocks until ctx is done, then waits for a
// running cleanup to finish.
func (c *Cleaner) Run(ctx context.Context) error {
	if _, err := c.cron.AddFunc(c.schedule, func() { c.RunOnce(ctx) }); err != nil {
		return err
	}
	c.cron.Start()
	c.logger.Info("cleanup scheduled", "schedule", c.schedule, "retention", c.retention.String())

	<-ctx.Done()
	<-c.cron.Stop().Done()
	return nil
}

// RunOnce prunes every target once. A failing target does not stop the rest.
func (c *Cleaner) RunOnce(ctx context.Context) map[string]int64 {
	cutoff := c.now().Add(-c.retention)
	removed := make(map[string]int64, len(c.targets))
	for _, t := range c.targets {
		n, err := t.Purge(ctx, cutoff)
		if err != nil {
			c.logger.Error("cleanup failed", "target", t.Name, "err", err)
			continue
		}
		removed[t.Name] = n
		c.logger.Info("cleanup done", "target", t.Name, "removed", n, "cutoff", cutoff.UTC().Format(time.RFC3339))
	}
	return removed
}
