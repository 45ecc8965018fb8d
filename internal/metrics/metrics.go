package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	syncSchedulesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worktime_sync_schedules_total",
			Help: "Total number of sync scheduling decisions",
		},
		[]string{"reason", "status"},
	)

	syncNextFireSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worktime_sync_next_fire_timestamp_seconds",
			Help: "Unix time of the next scheduled sync",
		},
	)

	syncAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worktime_sync_attempts_total",
			Help: "Total number of sync attempts",
		},
		[]string{"status"},
	)

	syncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "worktime_sync_duration_seconds",
			Help:    "Sync attempt duration in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	timerFiresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worktime_timer_fires_total",
			Help: "Total number of timer activations",
		},
		[]string{"timer"},
	)

	registrationsStartedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worktime_registrations_started_total",
			Help: "Total number of started time registrations",
		},
		[]string{"context", "gap_closed"},
	)

	registrationsStoppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worktime_registrations_stopped_total",
			Help: "Total number of stopped time registrations",
		},
		[]string{"context"},
	)

	gapClosedSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "worktime_gap_closed_seconds",
			Help:    "Size of gaps closed between consecutive registrations",
			Buckets: []float64{1, 5, 10, 20, 30, 45, 60},
		},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worktime_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	dbConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worktime_db_connections_in_use",
			Help: "Number of database connections currently in use",
		},
	)

	dbConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worktime_db_connections_idle",
			Help: "Number of idle database connections",
		},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordSchedule(reason string, nextFireAt time.Time, err error) {
	if err != nil {
		syncSchedulesTotal.WithLabelValues(reason, "error").Inc()
		return
	}
	syncSchedulesTotal.WithLabelValues(reason, "ok").Inc()
	syncNextFireSeconds.Set(float64(nextFireAt.Unix()))
}

func RecordUnschedule() {
	syncNextFireSeconds.Set(0)
}

func RecordSyncAttempt(status string, duration time.Duration) {
	syncAttemptsTotal.WithLabelValues(status).Inc()
	syncDuration.Observe(duration.Seconds())
}

func RecordTimerFire(name string) {
	timerFiresTotal.WithLabelValues(name).Inc()
}

func RecordRegistrationStarted(context string, gapClosed bool, gap time.Duration) {
	label := "false"
	if gapClosed {
		label = "true"
		gapClosedSeconds.Observe(gap.Seconds())
	}
	registrationsStartedTotal.WithLabelValues(context, label).Inc()
}

func RecordRegistrationStopped(context string) {
	registrationsStoppedTotal.WithLabelValues(context).Inc()
}

func UpdateDBStats(open, inUse, idle int) {
	dbConnectionsOpen.Set(float64(open))
	dbConnectionsInUse.Set(float64(inUse))
	dbConnectionsIdle.Set(float64(idle))
}
