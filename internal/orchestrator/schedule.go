package orchestrator

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// cronParser accepts both 5-field standard cron and 6-field-with-seconds
// expressions, matching mini-swe-agent's flexible `--every` syntax.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler reruns a Batch on a cron schedule until its context is canceled,
// used by `batch --every`.
type Scheduler struct {
	Every  string
	Logger *slog.Logger
}

// Run blocks, invoking run once per scheduled tick, until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context, run func(ctx context.Context) error) error {
	schedule, err := cronParser.Parse(s.Every)
	if err != nil {
		return err
	}

	c := cron.New()
	c.Schedule(schedule, cron.FuncJob(func() {
		if err := run(ctx); err != nil && s.Logger != nil {
			s.Logger.Error("scheduled batch run failed", "error", err)
		}
	}))
	c.Start()
	defer c.Stop()

	<-ctx.Done()
	return ctx.Err()
}
