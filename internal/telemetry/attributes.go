// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by all spans.
const (
	AdapterKey     = "tvd.adapter"
	FrontendKey    = "tvd.frontend"
	DelSysKey      = "tvd.delivery_system"
	FrequencyKey   = "tvd.frequency"
	TransponderKey = "tvd.transponder"
	ServiceIDKey   = "tvd.service_id"
	TableKey       = "tvd.table"

	ActivityIDKey   = "activity.id"
	ActivityKindKey = "activity.kind"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// TuneAttributes describes a tune request.
func TuneAttributes(adapter, frontend int, system string, frequency uint32) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AdapterKey, adapter),
		attribute.Int(FrontendKey, frontend),
		attribute.String(DelSysKey, system),
		attribute.Int64(FrequencyKey, int64(frequency)),
	}
}

// TableAttributes describes one scan table read.
func TableAttributes(transponder int, table string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(TransponderKey, transponder),
		attribute.String(TableKey, table),
	}
}

// ActivityAttributes describes an activity run.
func ActivityAttributes(id, kind string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if id != "" {
		attrs = append(attrs, attribute.String(ActivityIDKey, id))
	}
	if kind != "" {
		attrs = append(attrs, attribute.String(ActivityKindKey, kind))
	}
	return attrs
}

// ErrorAttributes marks a span as failed with a classification.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}

// HTTPAttributes describes an API request. status is 0 before the response
// is written.
func HTTPAttributes(method, route string, status int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.route", route),
	}
	if status != 0 {
		attrs = append(attrs, attribute.Int("http.status_code", status))
	}
	return attrs
}
