package scheduler

import (
	"time"

	"github.com/watzon/worktime/internal/synchistory"
)

// ComputePlan decides when the next sync fires.
//
// Without history, or when at least one interval has elapsed since the last
// attempt started, the next sync fires after Warmup. Otherwise it fires when
// the interval since the last start runs out. The period is always interval.
func ComputePlan(last *synchistory.SyncHistory, interval time.Duration, now time.Time) Plan {
	plan := Plan{Period: interval}

	switch {
	case last == nil:
		plan.Delay = Warmup
		plan.Reason = ReasonNeverSynced
	default:
		elapsed := now.Sub(last.StartedAt)
		if elapsed >= interval {
			plan.Delay = Warmup
			plan.Reason = ReasonOverdue
		} else {
			plan.Delay = interval - elapsed
			plan.Reason = ReasonResume
		}
	}

	plan.NextFireAt = now.Add(plan.Delay)
	return plan
}
