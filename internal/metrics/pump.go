// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pumpBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tvd_pump_bytes_total",
		Help: "Transport stream bytes emitted by pumps",
	}, []string{"mode"}) // mode=record|stream|playback

	pumpFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tvd_pump_failures_total",
		Help: "Pump aborts by reason",
	}, []string{"mode", "reason"}) // reason=stall|short_write|read|write

	ecmPackets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tvd_ecm_packets_total",
		Help: "ECM packets handed to CAM clients",
	})
)

func AddPumpBytes(mode string, n int) { pumpBytes.WithLabelValues(mode).Add(float64(n)) }
func IncPumpFailure(mode, reason string) {
	pumpFailures.WithLabelValues(mode, reason).Inc()
}
func IncECM() { ecmPackets.Inc() }
