package scheduler

import (
	"context"
	"time"

	"github.com/watzon/worktime/internal/synchistory"
)

// TimerName is the fixed name of the repeating sync trigger.
const TimerName = "worktime.sync"

// Warmup is the delay before the first sync, and before a catch-up sync when
// the previous one is overdue.
const Warmup = 5 * time.Minute

// Reason explains how a Plan's delay was chosen.
type Reason string

const (
	// ReasonNeverSynced means no previous attempt exists.
	ReasonNeverSynced Reason = "never_synced"
	// ReasonOverdue means a full interval has passed since the last attempt.
	ReasonOverdue Reason = "overdue"
	// ReasonResume means the original cadence is continued.
	ReasonResume Reason = "resume"
)

// Plan is a scheduling decision.
type Plan struct {
	NextFireAt time.Time     `json:"next_fire_at" yaml:"next_fire_at"`
	Period     time.Duration `json:"period" yaml:"period"`
	Delay      time.Duration `json:"delay" yaml:"delay"`
	Reason     Reason        `json:"reason" yaml:"reason"`
}

// HistoryReader returns the most recent sync attempt, or nil if there is none.
type HistoryReader interface {
	Latest(ctx context.Context) (*synchistory.SyncHistory, error)
}
