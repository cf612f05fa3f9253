// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package frontend

import (
	"github.com/ManuGH/tvd/internal/catalog"
	"github.com/ManuGH/tvd/internal/dvb"
)

// Port is one input of a frontend, e.g. one DiSEqC switch position.
type Port struct {
	Frontend ID               `json:"frontend"`
	Ordinal  int              `json:"ordinal"`
	Source   catalog.SourceID `json:"source"`
	LNB      *LNB             `json:"lnb,omitempty"`
}

// LNB converts satellite downlink frequencies to the tuner's intermediate
// frequency. All values are kHz.
type LNB struct {
	LowLOF     uint32 `json:"low_lof" yaml:"low_lof"`
	HighLOF    uint32 `json:"high_lof" yaml:"high_lof"`
	SwitchFreq uint32 `json:"switch_freq" yaml:"switch_freq"`
}

// UniversalLNB is the common Ku-band dual LO LNB.
var UniversalLNB = LNB{LowLOF: 9750000, HighLOF: 10600000, SwitchFreq: 11700000}

// Convert returns the intermediate frequency and whether the 22 kHz tone
// selects the high band. A single LO LNB has SwitchFreq 0.
func (l LNB) Convert(freqKHz uint32) (uint32, bool) {
	lof, high := l.LowLOF, false
	if l.SwitchFreq != 0 && l.HighLOF != 0 && freqKHz >= l.SwitchFreq {
		lof, high = l.HighLOF, true
	}
	if lof > freqKHz {
		// C-band inverts the spectrum
		return lof - freqKHz, high
	}
	return freqKHz - lof, high
}

// VoltageFor selects 13 V for vertical/right and 18 V for horizontal/left.
func VoltageFor(pol dvb.Polarization) dvb.Voltage {
	switch pol {
	case dvb.PolHorizontal, dvb.PolLeft:
		return dvb.Voltage18
	}
	return dvb.Voltage13
}

// Prepare builds the device parameters for p through this input. Satellite
// carriers get LNB conversion, tone, voltage and the DiSEqC position.
func (port *Port) Prepare(p catalog.Params) dvb.TuneParams {
	tp := p.TuneParams()
	s, ok := p.(catalog.DVBSParams)
	if !ok {
		return tp
	}
	lnb := UniversalLNB
	if port.LNB != nil {
		lnb = *port.LNB
	}
	tp.Frequency, tp.Tone = lnb.Convert(s.FrequencyKHz)
	tp.Voltage = VoltageFor(s.Polarization)
	tp.SatNumber = port.Ordinal % 4
	return tp
}
