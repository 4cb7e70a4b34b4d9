package authflow

import (
	"github.com/MarcoPoloResearchLab/epicesports/internal/auth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// flowOutcomes counts terminal outcomes per flow attempt.
	flowOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epicesports_auth_flow_outcomes_total",
		Help: "Total number of auth flow attempts by flow and outcome",
	}, []string{"flow", "outcome"})

	sessionsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epicesports_sessions_issued_total",
		Help: "Total number of session cookies minted by lifetime",
	}, []string{"lifetime"})
)

func recordOutcome(flow, outcome string) {
	flowOutcomes.WithLabelValues(flow, outcome).Inc()
}

func recordSession(opts auth.MintOptions) {
	lifetime := "default"
	if opts.ExtendedLifetime {
		lifetime = "extended"
	}
	sessionsIssued.WithLabelValues(lifetime).Inc()
}
