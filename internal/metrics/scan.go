// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tvd_scans_total",
		Help: "Transponder scans by final state",
	}, []string{"result"}) // result=scanned|scanning_failed|duplicate

	tableReadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tvd_table_reads_total",
		Help: "Table reads during scans by table and outcome",
	}, []string{"table", "outcome"}) // outcome=ok|timeout|error

	servicesUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tvd_services_upserted_total",
		Help: "Services created or updated by scans",
	}, []string{"type"})

	transpondersDiscovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tvd_transponders_discovered_total",
		Help: "Transponders created from network information tables",
	})
)

func IncScan(result string)              { scansTotal.WithLabelValues(result).Inc() }
func IncTableRead(table, outcome string) { tableReadsTotal.WithLabelValues(table, outcome).Inc() }
func IncServiceUpsert(serviceType string) {
	servicesUpserted.WithLabelValues(serviceType).Inc()
}
func IncTransponderDiscovered() { transpondersDiscovered.Inc() }
