// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activitiesRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tvd_activities_running",
		Help: "Activities currently between Starting and a terminal state",
	}, []string{"kind"})

	activitiesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tvd_activities_finished_total",
		Help: "Activities that reached a terminal state",
	}, []string{"kind", "state"}) // state=done|failed

	recordingsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tvd_recordings_active",
		Help: "Recordings currently capturing",
	})
)

func ActivityStarted(kind string) { activitiesRunning.WithLabelValues(kind).Inc() }

// ActivityFinished moves one activity of kind from running to finished.
func ActivityFinished(kind, state string) {
	activitiesRunning.WithLabelValues(kind).Dec()
	activitiesFinished.WithLabelValues(kind, state).Inc()
}

func SetRecordingsActive(n int) { recordingsActive.Set(float64(n)) }

var busDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tvd_bus_dropped_total",
	Help: "Bus messages dropped because the publish context ended",
}, []string{"topic", "reason"})

func IncBusDrop(topic, reason string) { busDropped.WithLabelValues(topic, reason).Inc() }

// BusDropped exposes the drop counter for tests in other packages.
func BusDropped(topic, reason string) prometheus.Counter {
	return busDropped.WithLabelValues(topic, reason)
}
