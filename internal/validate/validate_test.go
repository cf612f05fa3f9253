// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package validate

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_ListenAddr(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{":8088", false},
		{"127.0.0.1:0", false},
		{"[::1]:9000", false},
		{"8088", true},
		{"host:http", true},
		{":70000", true},
	}
	for _, tt := range tests {
		v := New()
		v.ListenAddr("api.listen", tt.addr)
		assert.Equal(t, tt.wantErr, !v.IsValid(), tt.addr)
	}
}

func TestValidator_Ranges(t *testing.T) {
	v := New()
	v.Range("a", 5, 1, 10)
	v.NonNegative("c", 0)
	v.Fraction("d", 0.5)
	v.PositiveDuration("e", time.Second)
	require.True(t, v.IsValid())

	v.Range("a", 11, 1, 10)
	v.NonNegative("c", -1)
	v.Fraction("d", 1.5)
	v.PositiveDuration("e", 0)
	assert.Len(t, v.Errors(), 4)
}

func TestValidationErrorJoinsMessages(t *testing.T) {
	v := New()
	assert.NoError(t, v.Err())
	v.OneOf("storage.backend", "mysql", []string{"sqlite", "badger"})
	v.NotEmpty("api.listen", " ")

	err := v.Err()
	require.Error(t, err)
	var verr ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Errors(), 2)
	assert.Contains(t, err.Error(), "storage.backend")
	assert.Contains(t, err.Error(), "; ")
}

func TestParseLogLevel(t *testing.T) {
	l, err := ParseLogLevel(string(LogLevelWarn))
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, l)
	for _, bad := range []string{"loud", "", "fatal", "disabled"} {
		_, err = ParseLogLevel(bad)
		assert.ErrorIs(t, err, ErrInvalidLogLevel, bad)
	}
}
