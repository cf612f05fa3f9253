// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tuneDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tvd_tune_duration_seconds",
		Help:    "Time from tune request to lock or failure",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 10},
	}, []string{"frontend", "result"}) // result=locked|timeout|error

	frontendState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tvd_frontend_state",
		Help: "Frontend state (1 for the active state)",
	}, []string{"frontend", "state"})

	frontendLeased = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tvd_frontend_leased",
		Help: "Whether the frontend's exclusive lock is held",
	}, []string{"frontend"})

	signalStrength = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tvd_signal_strength",
		Help: "Last signal strength sample after lock",
	}, []string{"frontend"})

	signalSNR = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tvd_signal_snr",
		Help: "Last signal to noise sample after lock",
	}, []string{"frontend"})
)

var frontendStates = []string{"new", "ready", "opened", "tuning", "scan_epg", "last"}

// ObserveTune records one tune attempt.
func ObserveTune(frontend, result string, d time.Duration) {
	tuneDuration.WithLabelValues(frontend, result).Observe(d.Seconds())
}

// SetFrontendState marks state as the active frontend state.
func SetFrontendState(frontend, state string) {
	for _, s := range frontendStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		frontendState.WithLabelValues(frontend, s).Set(v)
	}
}

// SetFrontendLeased records whether the frontend is held by an activity.
func SetFrontendLeased(frontend string, leased bool) {
	v := 0.0
	if leased {
		v = 1.0
	}
	frontendLeased.WithLabelValues(frontend).Set(v)
}

// SetSignal records the last signal sample.
func SetSignal(frontend string, strength, snr uint16) {
	signalStrength.WithLabelValues(frontend).Set(float64(strength))
	signalSNR.WithLabelValues(frontend).Set(float64(snr))
}
