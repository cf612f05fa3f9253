// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package catalog

import (
	"encoding/json"
	"fmt"

	"github.com/ManuGH/tvd/internal/dvb"
)

// Params is the delivery-system specific half of a Transponder.
type Params interface {
	System() dvb.DeliverySystem
	// Frequency in Hz, or kHz for satellite.
	Frequency() uint32
	// Key identifies the carrier for duplicate detection within a Source.
	Key() string
	TuneParams() dvb.TuneParams
	String() string
}

// DVBSParams describes a satellite carrier.
type DVBSParams struct {
	Sys          dvb.DeliverySystem `json:"system"`
	FrequencyKHz uint32             `json:"frequency_khz"`
	Polarization dvb.Polarization   `json:"polarization"`
	SymbolRate   uint32             `json:"symbol_rate"`
	FEC          string             `json:"fec,omitempty"`
	Modulation   string             `json:"modulation,omitempty"`
	Rolloff      string             `json:"rolloff,omitempty"`
}

func (p DVBSParams) System() dvb.DeliverySystem {
	if p.Sys == "" {
		return dvb.SysDVBS
	}
	return p.Sys
}
func (p DVBSParams) Frequency() uint32 { return p.FrequencyKHz }
func (p DVBSParams) Key() string {
	return fmt.Sprintf("S/%d/%s", p.FrequencyKHz, p.Polarization)
}
func (p DVBSParams) TuneParams() dvb.TuneParams {
	return dvb.TuneParams{
		System:     p.System(),
		Frequency:  p.FrequencyKHz,
		SymbolRate: p.SymbolRate,
		InnerFEC:   p.FEC,
		Modulation: p.Modulation,
		Rolloff:    p.Rolloff,
	}
}
func (p DVBSParams) String() string {
	return fmt.Sprintf("%s %d%s %d", p.System(), p.FrequencyKHz/1000, p.Polarization, p.SymbolRate/1000)
}

// DVBCParams describes a cable carrier.
type DVBCParams struct {
	FrequencyHz uint32 `json:"frequency_hz"`
	SymbolRate  uint32 `json:"symbol_rate"`
	Modulation  string `json:"modulation,omitempty"`
	FEC         string `json:"fec,omitempty"`
}

func (p DVBCParams) System() dvb.DeliverySystem { return dvb.SysDVBC }
func (p DVBCParams) Frequency() uint32          { return p.FrequencyHz }
func (p DVBCParams) Key() string                { return fmt.Sprintf("C/%d/%s", p.FrequencyHz, p.Modulation) }
func (p DVBCParams) TuneParams() dvb.TuneParams {
	return dvb.TuneParams{
		System:     dvb.SysDVBC,
		Frequency:  p.FrequencyHz,
		SymbolRate: p.SymbolRate,
		Modulation: p.Modulation,
		InnerFEC:   p.FEC,
	}
}
func (p DVBCParams) String() string {
	return fmt.Sprintf("%s %.3fMHz %s", dvb.SysDVBC, float64(p.FrequencyHz)/1e6, p.Modulation)
}

// DVBTParams describes a terrestrial carrier.
type DVBTParams struct {
	Sys           dvb.DeliverySystem `json:"system"`
	FrequencyHz   uint32             `json:"frequency_hz"`
	Bandwidth     uint32             `json:"bandwidth_hz"`
	Constellation string             `json:"constellation,omitempty"`
	CodeRateHP    string             `json:"code_rate_hp,omitempty"`
	CodeRateLP    string             `json:"code_rate_lp,omitempty"`
	Guard         string             `json:"guard,omitempty"`
	TxMode        string             `json:"transmission_mode,omitempty"`
	Hierarchy     string             `json:"hierarchy,omitempty"`
	PLPID         int                `json:"plp_id,omitempty"`
}

func (p DVBTParams) System() dvb.DeliverySystem {
	if p.Sys == "" {
		return dvb.SysDVBT
	}
	return p.Sys
}
func (p DVBTParams) Frequency() uint32 { return p.FrequencyHz }
func (p DVBTParams) Key() string {
	return fmt.Sprintf("T/%d/%s", p.FrequencyHz, p.Constellation)
}
func (p DVBTParams) TuneParams() dvb.TuneParams {
	return dvb.TuneParams{
		System:     p.System(),
		Frequency:  p.FrequencyHz,
		Bandwidth:  p.Bandwidth,
		Modulation: p.Constellation,
		CodeRateHP: p.CodeRateHP,
		CodeRateLP: p.CodeRateLP,
		Guard:      p.Guard,
		TxMode:     p.TxMode,
		Hierarchy:  p.Hierarchy,
		PLPID:      p.PLPID,
	}
}
func (p DVBTParams) String() string {
	return fmt.Sprintf("%s %.3fMHz", p.System(), float64(p.FrequencyHz)/1e6)
}

// ATSCParams describes an ATSC carrier.
type ATSCParams struct {
	FrequencyHz uint32 `json:"frequency_hz"`
	Modulation  string `json:"modulation,omitempty"`
}

func (p ATSCParams) System() dvb.DeliverySystem { return dvb.SysATSC }
func (p ATSCParams) Frequency() uint32          { return p.FrequencyHz }
func (p ATSCParams) Key() string                { return fmt.Sprintf("A/%d/%s", p.FrequencyHz, p.Modulation) }
func (p ATSCParams) TuneParams() dvb.TuneParams {
	return dvb.TuneParams{System: dvb.SysATSC, Frequency: p.FrequencyHz, Modulation: p.Modulation}
}
func (p ATSCParams) String() string {
	return fmt.Sprintf("%s %.3fMHz %s", dvb.SysATSC, float64(p.FrequencyHz)/1e6, p.Modulation)
}

type paramsEnvelope struct {
	Family dvb.Family      `json:"family"`
	Params json.RawMessage `json:"params"`
}

// MarshalParams encodes p with a family discriminator.
func MarshalParams(p Params) ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(paramsEnvelope{Family: p.System().Family(), Params: raw})
}

// UnmarshalParams decodes the output of MarshalParams.
func UnmarshalParams(b []byte) (Params, error) {
	var env paramsEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	var (
		p   Params
		err error
	)
	switch env.Family {
	case dvb.FamilySatellite:
		var v DVBSParams
		err = json.Unmarshal(env.Params, &v)
		p = v
	case dvb.FamilyCable:
		var v DVBCParams
		err = json.Unmarshal(env.Params, &v)
		p = v
	case dvb.FamilyTerrestrial:
		var v DVBTParams
		err = json.Unmarshal(env.Params, &v)
		p = v
	case dvb.FamilyATSC:
		var v ATSCParams
		err = json.Unmarshal(env.Params, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: family %q", dvb.ErrUnsupportedSystem, env.Family)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}
