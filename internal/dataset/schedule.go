package dataset

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule yields the time of the next sync cycle.
type Schedule = cron.Schedule

// NewSchedule returns a cron schedule when expr is set and a fixed interval
// otherwise. Intervals are rounded down to whole seconds with a one second
// minimum.
func NewSchedule(interval time.Duration, expr string) (Schedule, error) {
	if expr != "" {
		s, err := cron.ParseStandard(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid sync schedule %q: %w", expr, err)
		}
		return s, nil
	}
	if interval <= 0 {
		return nil, fmt.Errorf("sync interval must be positive, got %s", interval)
	}
	return cron.Every(interval), nil
}
