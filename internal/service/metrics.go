package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/quizhub/accounts/internal/provisioning"
)

var (
	registrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "accounts_registrations_total",
		Help: "Registrations by credential path and outcome.",
	}, []string{"path", "outcome"})

	registrationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "accounts_registration_duration_seconds",
		Help:    "Duration of the registration workflow.",
		Buckets: prometheus.DefBuckets,
	}, []string{"path"})

	profileRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "accounts_profile_retries_total",
		Help: "Profile step retries by outcome.",
	}, []string{"outcome"})

	commitHookFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "accounts_commit_hook_failures_total",
		Help: "Post-commit notifications that failed or panicked.",
	})
)

const (
	pathPassword  = "password"
	pathFederated = "federated"
)

// outcome labels err by its workflow kind.
func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if kind := provisioning.KindOf(err); kind != 0 {
		return kind.String()
	}
	return "error"
}
