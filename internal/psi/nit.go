// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package psi

import (
	"encoding/binary"
	"fmt"
)

// TransportStreamInfo is one transport stream loop entry of a NIT.
type TransportStreamInfo struct {
	TSID        uint16
	ONID        uint16
	Descriptors []Descriptor
}

// NIT is a decoded network information table section.
type NIT struct {
	NetworkID   uint16
	Version     byte
	Name        string
	Descriptors []Descriptor
	Transports  []TransportStreamInfo
}

// ParseNIT decodes a NIT section (actual or other).
func ParseNIT(s Section) (NIT, error) {
	if s.TableID != TableNITActual && s.TableID != TableNITOther {
		return NIT{}, fmt.Errorf("%w: 0x%02x in nit", ErrTableID, s.TableID)
	}
	b := s.Body
	if len(b) < 2 {
		return NIT{}, fmt.Errorf("%w: nit header", ErrShortSection)
	}
	nit := NIT{NetworkID: s.Ext, Version: s.Version}
	nl := int(binary.BigEndian.Uint16(b[0:2]) & 0x0FFF)
	b = b[2:]
	if len(b) < nl {
		return nit, fmt.Errorf("%w: network descriptors", ErrShortSection)
	}
	var err error
	if nit.Descriptors, err = ParseDescriptors(b[:nl]); err != nil {
		return nit, err
	}
	if d, ok := Find(nit.Descriptors, TagNetworkName); ok {
		nit.Name = DecodeText(d.Data)
	}
	b = b[nl:]
	if len(b) < 2 {
		return nit, fmt.Errorf("%w: transport stream loop", ErrShortSection)
	}
	tl := int(binary.BigEndian.Uint16(b[0:2]) & 0x0FFF)
	b = b[2:]
	if len(b) < tl {
		return nit, fmt.Errorf("%w: transport stream loop", ErrShortSection)
	}
	b = b[:tl]
	for len(b) >= 6 {
		ts := TransportStreamInfo{
			TSID: binary.BigEndian.Uint16(b[0:2]),
			ONID: binary.BigEndian.Uint16(b[2:4]),
		}
		dl := int(binary.BigEndian.Uint16(b[4:6]) & 0x0FFF)
		b = b[6:]
		if len(b) < dl {
			return nit, fmt.Errorf("%w: transport 0x%x descriptors", ErrShortSection, ts.TSID)
		}
		if ts.Descriptors, err = ParseDescriptors(b[:dl]); err != nil {
			return nit, err
		}
		b = b[dl:]
		nit.Transports = append(nit.Transports, ts)
	}
	return nit, nil
}

var fecInner = map[byte]string{
	1: "1/2", 2: "2/3", 3: "3/4", 4: "5/6", 5: "7/8",
	6: "8/9", 7: "3/5", 8: "4/5", 9: "9/10", 15: "NONE",
}

func fecName(v byte) string {
	if s, ok := fecInner[v]; ok {
		return s
	}
	return "AUTO"
}

// bcd decodes n packed BCD digits starting at the high nibble of b[0].
func bcd(b []byte, n int) uint32 {
	var v uint32
	for i := 0; i < n; i++ {
		d := b[i/2]
		if i%2 == 0 {
			d >>= 4
		}
		v = v*10 + uint32(d&0x0F)
	}
	return v
}

// SatelliteDelivery is a satellite delivery system descriptor.
type SatelliteDelivery struct {
	Frequency       uint32 // kHz
	OrbitalPosition uint16 // tenths of a degree
	East            bool
	Polarization    string
	Rolloff         string
	S2              bool
	Modulation      string
	SymbolRate      uint32 // symbols per second
	FEC             string
}

// ParseSatelliteDelivery decodes descriptor 0x43.
func ParseSatelliteDelivery(d Descriptor) (SatelliteDelivery, error) {
	b := d.Data
	if d.Tag != TagSatelliteDelivery || len(b) < 11 {
		return SatelliteDelivery{}, fmt.Errorf("%w: satellite delivery descriptor", ErrShortSection)
	}
	return SatelliteDelivery{
		Frequency:       bcd(b[0:4], 8) * 10,
		OrbitalPosition: uint16(bcd(b[4:6], 4)),
		East:            b[6]&0x80 != 0,
		Polarization:    [...]string{"H", "V", "L", "R"}[(b[6]>>5)&0x03],
		Rolloff:         [...]string{"35", "25", "20", "AUTO"}[(b[6]>>3)&0x03],
		S2:              b[6]&0x04 != 0,
		Modulation:      [...]string{"AUTO", "QPSK", "8PSK", "16QAM"}[b[6]&0x03],
		SymbolRate:      bcd(b[7:11], 7) * 100,
		FEC:             fecName(b[10] & 0x0F),
	}, nil
}

// CableDelivery is a cable delivery system descriptor.
type CableDelivery struct {
	Frequency  uint32 // Hz
	Modulation string
	SymbolRate uint32
	FEC        string
}

// ParseCableDelivery decodes descriptor 0x44.
func ParseCableDelivery(d Descriptor) (CableDelivery, error) {
	b := d.Data
	if d.Tag != TagCableDelivery || len(b) < 11 {
		return CableDelivery{}, fmt.Errorf("%w: cable delivery descriptor", ErrShortSection)
	}
	mod := "AUTO"
	switch b[6] {
	case 1:
		mod = "QAM/16"
	case 2:
		mod = "QAM/32"
	case 3:
		mod = "QAM/64"
	case 4:
		mod = "QAM/128"
	case 5:
		mod = "QAM/256"
	}
	return CableDelivery{
		Frequency:  bcd(b[0:4], 8) * 100,
		Modulation: mod,
		SymbolRate: bcd(b[7:11], 7) * 100,
		FEC:        fecName(b[10] & 0x0F),
	}, nil
}

// TerrestrialDelivery is a terrestrial delivery system descriptor.
type TerrestrialDelivery struct {
	Frequency     uint32 // Hz
	Bandwidth     uint32 // Hz
	Constellation string
	Hierarchy     string
	CodeRateHP    string
	CodeRateLP    string
	Guard         string
	TxMode        string
}

// ParseTerrestrialDelivery decodes descriptor 0x5A.
func ParseTerrestrialDelivery(d Descriptor) (TerrestrialDelivery, error) {
	b := d.Data
	if d.Tag != TagTerrestrialDelivery || len(b) < 7 {
		return TerrestrialDelivery{}, fmt.Errorf("%w: terrestrial delivery descriptor", ErrShortSection)
	}
	rates := [...]string{"1/2", "2/3", "3/4", "5/6", "7/8", "AUTO", "AUTO", "AUTO"}
	bw := [...]uint32{8_000_000, 7_000_000, 6_000_000, 5_000_000, 0, 0, 0, 0}
	return TerrestrialDelivery{
		Frequency:     binary.BigEndian.Uint32(b[0:4]) * 10,
		Bandwidth:     bw[b[4]>>5],
		Constellation: [...]string{"QPSK", "QAM/16", "QAM/64", "AUTO"}[b[5]>>6],
		Hierarchy:     [...]string{"NONE", "1", "2", "4"}[(b[5]>>3)&0x03],
		CodeRateHP:    rates[b[5]&0x07],
		CodeRateLP:    rates[b[6]>>5],
		Guard:         [...]string{"1/32", "1/16", "1/8", "1/4"}[(b[6]>>3)&0x03],
		TxMode:        [...]string{"2K", "8K", "4K", "AUTO"}[(b[6]>>1)&0x03],
	}, nil
}
