package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Submissions counts solution submissions by outcome: accepted,
	// incorrect, duplicate, rejected.
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "techescape_submissions_total",
		Help: "Solution submissions by outcome.",
	}, []string{"outcome"})

	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "techescape_sessions_started_total",
		Help: "Fresh challenge sessions opened.",
	})

	Disqualifications = promauto.NewCounter(prometheus.CounterOpts{
		Name: "techescape_disqualifications_total",
		Help: "Sessions terminated for excessive tab switching.",
	})
)
