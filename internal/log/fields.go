// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldActivityID  = "activity_id"
	FieldRequestID   = "request_id"
	FieldRecordingID = "recording_id"
	FieldSessionID   = "session_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldKind      = "kind"

	// Tuner / catalog fields
	FieldAdapter     = "adapter"
	FieldFrontend    = "frontend"
	FieldPort        = "port"
	FieldSource      = "source"
	FieldTransponder = "transponder"
	FieldTSID        = "tsid"
	FieldServiceID   = "service_id"
	FieldChannel     = "channel"
	FieldPID         = "pid"
	FieldTable       = "table"
	FieldDelSys      = "delivery_system"
	FieldFrequency   = "frequency"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path fields
	FieldPath = "path"
)
