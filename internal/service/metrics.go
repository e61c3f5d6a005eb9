package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_rate_limit_decisions_total",
		Help: "Rate limiter decisions by scope and outcome",
	}, []string{"scope", "outcome"})

	authOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_auth_outcomes_total",
		Help: "Authentication attempts by method and outcome",
	}, []string{"method", "outcome"})

	grantsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portal_download_grants_issued_total",
		Help: "Download grants issued",
	})

	grantRedemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_download_grant_redemptions_total",
		Help: "Download grant redemption attempts by outcome",
	}, []string{"outcome"})

	downloadRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_download_rejections_total",
		Help: "Download requests rejected by reason",
	}, []string{"reason"})

	bestEffortFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_best_effort_write_failures_total",
		Help: "Failed writes that did not block the caller",
	}, []string{"target"})
)
