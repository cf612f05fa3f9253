// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	epgUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tvd_epg_updates_total",
		Help: "Programme guide reads by outcome",
	}, []string{"result"}) // result=ok|empty|error

	epgEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tvd_epg_events_total",
		Help: "Guide events stored from event information tables",
	})
)

func IncEPGUpdate(result string) { epgUpdatesTotal.WithLabelValues(result).Inc() }
func AddEPGEvents(n int)         { epgEventsTotal.Add(float64(n)) }
