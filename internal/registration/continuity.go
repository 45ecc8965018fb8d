package registration

import "time"

// GapThreshold is the largest gap closed by DecideStartTime.
const GapThreshold = 60 * time.Second

// ContinuityDecision is the outcome of DecideStartTime.
type ContinuityDecision struct {
	EffectiveStart time.Time     `json:"effective_start" yaml:"effective_start"`
	Merged         bool          `json:"merged" yaml:"merged"`
	Gap            time.Duration `json:"gap" yaml:"gap"`
}

// DecideStartTime returns the start time for a registration requested at
// candidate. When enabled and prior ended less than threshold before
// candidate, the new registration starts exactly at prior's end. A running
// prior, or one ending after candidate, leaves candidate unchanged.
func DecideStartTime(candidate time.Time, prior *TimeRegistration, threshold time.Duration, enabled bool) ContinuityDecision {
	d := ContinuityDecision{EffectiveStart: candidate}

	if !enabled || prior == nil || prior.EndTime == nil {
		return d
	}

	d.Gap = candidate.Sub(*prior.EndTime)
	if d.Gap >= 0 && d.Gap < threshold {
		d.EffectiveStart = *prior.EndTime
		d.Merged = true
	}

	return d
}
