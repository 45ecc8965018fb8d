package registration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ended(start, end time.Time) *TimeRegistration {
	return &TimeRegistration{StartTime: start, EndTime: &end}
}

func TestDecideStartTime(t *testing.T) {
	candidate := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	before := func(d time.Duration) time.Time { return candidate.Add(-d) }

	tests := []struct {
		name    string
		prior   *TimeRegistration
		enabled bool
		want    time.Time
		merged  bool
		gap     time.Duration
	}{
		{"no prior", nil, true, candidate, false, 0},
		{"prior running", &TimeRegistration{StartTime: before(time.Hour)}, true, candidate, false, 0},
		{"disabled", ended(before(time.Hour), before(30*time.Second)), false, candidate, false, 0},
		{"gap of 30s", ended(before(time.Hour), before(30*time.Second)), true, before(30 * time.Second), true, 30 * time.Second},
		{"no gap", ended(before(time.Hour), candidate), true, candidate, true, 0},
		{"just under threshold", ended(before(time.Hour), before(GapThreshold-time.Millisecond)), true, before(GapThreshold - time.Millisecond), true, GapThreshold - time.Millisecond},
		{"exactly threshold", ended(before(time.Hour), before(GapThreshold)), true, candidate, false, GapThreshold},
		{"two minutes", ended(before(time.Hour), before(2*time.Minute)), true, candidate, false, 2 * time.Minute},
		{"prior ends in the future", ended(before(time.Hour), candidate.Add(10*time.Second)), true, candidate, false, -10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := DecideStartTime(candidate, tt.prior, GapThreshold, tt.enabled)
			assert.Equal(t, tt.want, d.EffectiveStart)
			assert.Equal(t, tt.merged, d.Merged)
			assert.Equal(t, tt.gap, d.Gap)
			assert.False(t, d.EffectiveStart.After(candidate))
		})
	}
}

func TestDecideStartTime_NeverBeforeCandidateMinusThreshold(t *testing.T) {
	candidate := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	for gap := -2 * time.Minute; gap <= 2*time.Minute; gap += 7 * time.Second {
		prior := ended(candidate.Add(-time.Hour), candidate.Add(-gap))
		d := DecideStartTime(candidate, prior, GapThreshold, true)

		assert.False(t, d.EffectiveStart.After(candidate), "gap %s", gap)
		assert.True(t, candidate.Sub(d.EffectiveStart) < GapThreshold, "gap %s", gap)
		if d.Merged {
			assert.Equal(t, *prior.EndTime, d.EffectiveStart)
		}
	}
}
