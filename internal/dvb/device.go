// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package dvb defines the contracts between the tuner core and the physical
// receiver: a Device that tunes and reports lock, and per-PID demux Filters
// that deliver 188-byte transport packets.
package dvb

import (
	"errors"
	"fmt"
	"strings"
)

// PacketSize is the size of one MPEG transport stream packet.
const PacketSize = 188

var (
	// ErrNotOpen is returned by devices that are used before Open.
	ErrNotOpen = errors.New("dvb: device not open")
	// ErrUnsupportedSystem is returned for delivery systems the device cannot tune.
	ErrUnsupportedSystem = errors.New("dvb: unsupported delivery system")
)

// DeliverySystem names a broadcast standard as understood by the kernel API.
type DeliverySystem string

const (
	SysDVBS  DeliverySystem = "DVBS"
	SysDVBS2 DeliverySystem = "DVBS2"
	SysDVBC  DeliverySystem = "DVBC/ANNEX_A"
	SysDVBT  DeliverySystem = "DVBT"
	SysDVBT2 DeliverySystem = "DVBT2"
	SysATSC  DeliverySystem = "ATSC"
)

// Family groups delivery systems that share a tuner front end and table layout.
type Family string

const (
	FamilySatellite   Family = "DVB-S"
	FamilyCable       Family = "DVB-C"
	FamilyTerrestrial Family = "DVB-T"
	FamilyATSC        Family = "ATSC"
)

// Family returns the family the delivery system belongs to.
func (d DeliverySystem) Family() Family {
	switch d {
	case SysDVBS, SysDVBS2:
		return FamilySatellite
	case SysDVBC:
		return FamilyCable
	case SysDVBT, SysDVBT2:
		return FamilyTerrestrial
	case SysATSC:
		return FamilyATSC
	}
	return ""
}

// ParseDeliverySystem accepts the kernel names plus the dvbv5 channel-file aliases.
func ParseDeliverySystem(s string) (DeliverySystem, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DVBS", "DVB-S":
		return SysDVBS, nil
	case "DVBS2", "DVB-S2":
		return SysDVBS2, nil
	case "DVBC/ANNEX_A", "DVBC", "DVB-C", "DVBC_ANNEX_A":
		return SysDVBC, nil
	case "DVBT", "DVB-T":
		return SysDVBT, nil
	case "DVBT2", "DVB-T2":
		return SysDVBT2, nil
	case "ATSC":
		return SysATSC, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedSystem, s)
}

// ParseFamily parses a source type as written in configuration.
func ParseFamily(s string) (Family, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DVB-S", "DVBS", "SATELLITE":
		return FamilySatellite, nil
	case "DVB-C", "DVBC", "CABLE":
		return FamilyCable, nil
	case "DVB-T", "DVBT", "TERRESTRIAL":
		return FamilyTerrestrial, nil
	case "ATSC":
		return FamilyATSC, nil
	}
	return "", fmt.Errorf("%w: family %q", ErrUnsupportedSystem, s)
}

// Polarization of a satellite carrier.
type Polarization string

const (
	PolHorizontal Polarization = "H"
	PolVertical   Polarization = "V"
	PolLeft       Polarization = "L"
	PolRight      Polarization = "R"
)

// Voltage selects the LNB supply voltage.
type Voltage int

const (
	VoltageOff Voltage = iota
	Voltage13
	Voltage18
)

// TuneParams is the flattened parameter set handed to a Device. Fields that
// do not apply to the delivery system are left zero.
type TuneParams struct {
	System     DeliverySystem
	Frequency  uint32 // Hz; intermediate frequency in kHz for satellite
	SymbolRate uint32 // symbols per second
	Modulation string
	InnerFEC   string
	Bandwidth  uint32 // Hz
	CodeRateHP string
	CodeRateLP string
	Guard      string
	TxMode     string
	Hierarchy  string
	Rolloff    string
	PLPID      int

	// Satellite equipment control.
	Tone      bool
	Voltage   Voltage
	SatNumber int
}

// Status is one lock/quality sample.
type Status struct {
	Lock   bool
	Signal uint16
	SNR    uint16
	BER    uint32
}

// Device is one physical tuner with its demultiplexer.
type Device interface {
	Open() error
	Close() error
	// Tune applies params and starts tuning; lock is observed via ReadStatus.
	Tune(p TuneParams) error
	ReadStatus() (Status, error)
	// OpenFilter starts a demux filter delivering transport packets of pid.
	OpenFilter(pid uint16) (Filter, error)
}

// Filter is an open demux descriptor. Read returns whole transport packets and
// blocks until data arrives or the filter is closed.
type Filter interface {
	PID() uint16
	Read(p []byte) (int, error)
	Close() error
}

// Opener allocates demux filters on a tuned device.
type Opener interface {
	OpenFilter(pid uint16) (Filter, error)
}
