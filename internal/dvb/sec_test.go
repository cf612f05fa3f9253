// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dvb

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type secLog struct {
	ops []string
	err error
}

func (s *secLog) SetVoltage(v Voltage) error {
	s.ops = append(s.ops, fmt.Sprintf("voltage %d", v))
	return nil
}

func (s *secLog) SetTone(on bool) error {
	s.ops = append(s.ops, fmt.Sprintf("tone %t", on))
	return nil
}

func (s *secLog) SendDiSEqC(msg []byte) error {
	s.ops = append(s.ops, fmt.Sprintf("diseqc % x", msg))
	return s.err
}

func (s *secLog) SendBurst(b bool) error {
	s.ops = append(s.ops, fmt.Sprintf("burst %t", b))
	return nil
}

func TestCommittedSwitch(t *testing.T) {
	tests := []struct {
		name string
		p    TuneParams
		want byte
	}{
		{"first input low band vertical", TuneParams{Voltage: Voltage13}, 0xF0},
		{"first input high band horizontal", TuneParams{Voltage: Voltage18, Tone: true}, 0xF3},
		{"third input", TuneParams{SatNumber: 2, Voltage: Voltage13, Tone: true}, 0xF9},
		{"fourth input horizontal", TuneParams{SatNumber: 3, Voltage: Voltage18}, 0xFE},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, []byte{0xE0, 0x10, 0x38, tt.want}, CommittedSwitch(tt.p))
		})
	}
}

func TestSwitchInputSequence(t *testing.T) {
	s := &secLog{}
	require.NoError(t, SwitchInput(s, TuneParams{SatNumber: 1, Voltage: Voltage18, Tone: true}, 0))
	assert.Equal(t, []string{
		"tone false",
		"voltage 2",
		"diseqc e0 10 38 f7",
		"burst true",
		"tone true",
	}, s.ops)
}

func TestSwitchInputStopsOnError(t *testing.T) {
	boom := errors.New("bus collision")
	s := &secLog{err: boom}
	err := SwitchInput(s, TuneParams{Voltage: Voltage13}, 0)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"tone false", "voltage 1", "diseqc e0 10 38 f0"}, s.ops)
}
