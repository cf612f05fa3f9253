// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dvb

import (
	"fmt"
	"time"
)

// SEC is satellite equipment control: LNB power, the 22 kHz tone and DiSEqC
// messages. Satellite devices implement it alongside Device.
type SEC interface {
	SetVoltage(v Voltage) error
	SetTone(on bool) error
	SendDiSEqC(msg []byte) error
	// SendBurst sends the mini DiSEqC tone burst, B when b is set.
	SendBurst(b bool) error
}

// CommittedSwitch returns the DiSEqC 1.0 committed switch message selecting
// input p.SatNumber (0..3) with the polarization and band of p.
func CommittedSwitch(p TuneParams) []byte {
	data := byte(0xF0) | byte(p.SatNumber&3)<<2
	if p.Voltage == Voltage18 {
		data |= 0x02
	}
	if p.Tone {
		data |= 0x01
	}
	return []byte{0xE0, 0x10, 0x38, data}
}

// SwitchInput selects the LNB input for p: tone off, supply voltage,
// committed switch, tone burst, then the band tone. settle is waited after
// each bus operation.
func SwitchInput(s SEC, p TuneParams, settle time.Duration) error {
	if err := s.SetTone(false); err != nil {
		return fmt.Errorf("set tone: %w", err)
	}
	if err := s.SetVoltage(p.Voltage); err != nil {
		return fmt.Errorf("set voltage: %w", err)
	}
	time.Sleep(settle)
	if err := s.SendDiSEqC(CommittedSwitch(p)); err != nil {
		return fmt.Errorf("send diseqc: %w", err)
	}
	time.Sleep(settle)
	if err := s.SendBurst(p.SatNumber&1 == 1); err != nil {
		return fmt.Errorf("send burst: %w", err)
	}
	time.Sleep(settle)
	if err := s.SetTone(p.Tone); err != nil {
		return fmt.Errorf("set tone: %w", err)
	}
	return nil
}
