package gate

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	authenticateTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "journalgate_authenticate_total",
		Help: "Completed authenticate operations by result.",
	}, []string{"result"})

	challengeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "journalgate_challenge_duration_seconds",
		Help:    "Time spent waiting on the platform biometric prompt.",
		Buckets: []float64{.25, .5, 1, 2, 5, 10, 30, 60},
	})

	storageErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "journalgate_storage_errors_total",
		Help: "Flag storage failures absorbed by the gate, by operation.",
	}, []string{"op"})

	capabilityErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "journalgate_capability_errors_total",
		Help: "Capability detection failures degraded to no biometrics.",
	})

	sessionUnlocked = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "journalgate_session_unlocked",
		Help: "Session lock status: 0=locked, 1=unlocked.",
	})
)

func init() {
	prometheus.MustRegister(authenticateTotal, challengeDuration, storageErrorsTotal, capabilityErrorsTotal, sessionUnlocked)
}

func setUnlockedGauge(unlocked bool) {
	if unlocked {
		sessionUnlocked.Set(1)
		return
	}
	sessionUnlocked.Set(0)
}
