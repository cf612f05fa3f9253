// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerStateIsOneHot(t *testing.T) {
	SetCircuitBreakerState("cam-test", "open")
	assert.Equal(t, 1.0, testutil.ToFloat64(circuitBreakerState.WithLabelValues("cam-test", "open")))
	assert.Equal(t, 0.0, testutil.ToFloat64(circuitBreakerState.WithLabelValues("cam-test", "closed")))

	SetCircuitBreakerState("cam-test", "closed")
	assert.Equal(t, 0.0, testutil.ToFloat64(circuitBreakerState.WithLabelValues("cam-test", "open")))
}

func TestActivityGauges(t *testing.T) {
	before := testutil.ToFloat64(activitiesFinished.WithLabelValues("scan", "failed"))
	ActivityStarted("scan")
	assert.Equal(t, 1.0, testutil.ToFloat64(activitiesRunning.WithLabelValues("scan")))
	ActivityFinished("scan", "failed")
	assert.Equal(t, 0.0, testutil.ToFloat64(activitiesRunning.WithLabelValues("scan")))
	assert.Equal(t, before+1, testutil.ToFloat64(activitiesFinished.WithLabelValues("scan", "failed")))
}

func TestObserveTune(t *testing.T) {
	ObserveTune("0/0", "locked", 1500*time.Millisecond)

	var m dto.Metric
	obs, err := tuneDuration.GetMetricWithLabelValues("0/0", "locked")
	require.NoError(t, err)
	require.NoError(t, obs.(interface{ Write(*dto.Metric) error }).Write(&m))
	assert.Equal(t, uint64(1), m.GetHistogram().GetSampleCount())
	assert.InDelta(t, 1.5, m.GetHistogram().GetSampleSum(), 1e-9)
}

func TestExposition(t *testing.T) {
	IncScan("scanned")
	AddPumpBytes("record", 188)
	SetFrontendState("0/0", "tuning")

	rec := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `tvd_scans_total{result="scanned"}`)
	assert.Contains(t, body, `tvd_pump_bytes_total{mode="record"}`)
	assert.Contains(t, body, `tvd_frontend_state{frontend="0/0",state="tuning"} 1`)
}
