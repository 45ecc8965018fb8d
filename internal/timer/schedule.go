package timer

import "time"

// repeating is a cron.Schedule that fires at first and then every period.
type repeating struct {
	first  time.Time
	period time.Duration
}

// Next returns the first activation strictly after t.
func (r repeating) Next(t time.Time) time.Time {
	if t.Before(r.first) {
		return r.first
	}
	n := t.Sub(r.first)/r.period + 1
	return r.first.Add(n * r.period)
}
