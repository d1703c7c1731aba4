// Package metrics defines the prometheus instruments for the ops
// endpoint.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Registry *prometheus.Registry

	ActiveSessions  prometheus.Gauge
	OpenRooms       prometheus.Gauge
	MatchesStarted  prometheus.Counter
	MatchesFinished prometheus.Counter
	Submissions     *prometheus.CounterVec
}

// Verdict labels for the submissions counter.
const (
	VerdictCorrect   = "correct"
	VerdictIncorrect = "incorrect"
	VerdictError     = "error"
)

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "battle_active_sessions",
			Help: "Number of live player connections.",
		}),
		OpenRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "battle_open_rooms",
			Help: "Number of rooms currently indexed.",
		}),
		MatchesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "battle_matches_started_total",
			Help: "Matches that reached the active state.",
		}),
		MatchesFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "battle_matches_finished_total",
			Help: "Matches that ended with a game over.",
		}),
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "battle_submissions_total",
			Help: "Judged submissions by verdict.",
		}, []string{"verdict"}),
	}
	m.Registry.MustRegister(
		m.ActiveSessions,
		m.OpenRooms,
		m.MatchesStarted,
		m.MatchesFinished,
		m.Submissions,
	)
	return m
}
