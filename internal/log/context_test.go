// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// SPDX-License-Identifier: MIT
package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestContextWithRequestID(t *testing.T) {
	tests := []struct {
		name      string
		ctx       context.Context
		requestID string
		want      string
	}{
		{
			name:      "nil context",
			ctx:       nil,
			requestID: "test-id-123",
			want:      "test-id-123",
		},
		{
			name:      "background context",
			ctx:       context.Background(),
			requestID: "req-456",
			want:      "req-456",
		},
		{
			name:      "empty request ID",
			ctx:       context.Background(),
			requestID: "",
			want:      "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := ContextWithRequestID(tt.ctx, tt.requestID)
			got := RequestIDFromContext(ctx)
			if got != tt.want {
				t.Errorf("RequestIDFromContext() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestActivityIDFromContextEmpty(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{name: "nil context", ctx: nil, want: ""},
		{name: "context without activity ID", ctx: context.Background(), want: ""},
		{name: "context with wrong type", ctx: context.WithValue(context.Background(), activityIDKey, 123), want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ActivityIDFromContext(tt.ctx); got != tt.want {
				t.Errorf("ActivityIDFromContext() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWithContext_AddsCorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := ContextWithRequestID(context.Background(), "req-123")
	ctx = ContextWithActivityID(ctx, "act-9")
	l := WithContext(ctx, base)
	l.Info().Msg("hello")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if out[FieldRequestID] != "req-123" {
		t.Errorf("request_id = %v, want req-123", out[FieldRequestID])
	}
	if out[FieldActivityID] != "act-9" {
		t.Errorf("activity_id = %v, want act-9", out[FieldActivityID])
	}
}

func TestWithContext_EmptyContextKeepsLogger(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)
	l := WithContext(context.Background(), base)
	l.Info().Msg("plain")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if _, ok := out[FieldRequestID]; ok {
		t.Error("unexpected request_id field")
	}
}

func TestConfigure_ServiceAndComponent(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "tvd-test", Version: "v0"})
	defer Configure(Config{})

	l := WithComponent("frontend")
	l.Debug().Str(FieldEvent, "frontend.opened").Msg("opened")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if out["service"] != "tvd-test" {
		t.Errorf("service = %v", out["service"])
	}
	if out[FieldComponent] != "frontend" {
		t.Errorf("component = %v", out[FieldComponent])
	}
	if out[FieldEvent] != "frontend.opened" {
		t.Errorf("event = %v", out[FieldEvent])
	}
}

func TestDerive(t *testing.T) {
	logger1 := Derive(nil)
	if logger1.GetLevel() > zerolog.PanicLevel {
		t.Error("Expected valid logger from Derive with nil builder")
	}

	logger2 := Derive(func(ctx *zerolog.Context) {
		ctx.Str("custom_field", "test_value")
	})
	if logger2.GetLevel() > zerolog.PanicLevel {
		t.Error("Expected valid logger from Derive with custom builder")
	}
}

func TestWithTraceContext(t *testing.T) {
	logger1 := WithTraceContext(context.Background())
	if logger1.GetLevel() > zerolog.PanicLevel {
		t.Error("Expected valid logger without trace")
	}

	noopTracer := noop.NewTracerProvider().Tracer("test")
	ctx, span := noopTracer.Start(context.Background(), "test-span")
	defer span.End()

	logger2 := WithTraceContext(ctx)
	if logger2.GetLevel() > zerolog.PanicLevel {
		t.Error("Expected valid logger with noop span")
	}
}

func TestFromContext_FallsBackToBase(t *testing.T) {
	l := FromContext(context.Background())
	if l == nil {
		t.Fatal("expected logger")
	}
	//nolint:staticcheck
	if FromContext(nil) == nil {
		t.Fatal("expected logger for nil context")
	}
}
