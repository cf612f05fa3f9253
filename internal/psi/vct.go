// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package psi

import (
	"encoding/binary"
	"fmt"
)

// VCT service_type codes.
const (
	ATSCServiceAnalog  byte = 0x01
	ATSCServiceDigital byte = 0x02
	ATSCServiceAudio   byte = 0x03
	ATSCServiceData    byte = 0x04
)

// VirtualChannel is one channel loop entry of an ATSC VCT.
type VirtualChannel struct {
	ShortName        string
	Major            uint16
	Minor            uint16
	Modulation       byte
	CarrierFrequency uint32
	TSID             uint16
	ProgramNumber    uint16
	AccessControlled bool
	Hidden           bool
	ServiceType      byte
	SourceID         uint16
	Descriptors      []Descriptor
}

// VCT is a decoded terrestrial or cable virtual channel table section.
type VCT struct {
	TSID     uint16
	Version  byte
	Channels []VirtualChannel
}

const vctChannelLen = 32

// ParseVCT decodes a TVCT or CVCT section.
func ParseVCT(s Section) (VCT, error) {
	if s.TableID != TableTVCT && s.TableID != TableCVCT {
		return VCT{}, fmt.Errorf("%w: 0x%02x in vct", ErrTableID, s.TableID)
	}
	b := s.Body
	if len(b) < 2 {
		return VCT{}, fmt.Errorf("%w: vct header", ErrShortSection)
	}
	vct := VCT{TSID: s.Ext, Version: s.Version}
	n := int(b[1])
	b = b[2:]
	for i := 0; i < n; i++ {
		if len(b) < vctChannelLen {
			return vct, fmt.Errorf("%w: vct channel %d", ErrShortSection, i)
		}
		word := binary.BigEndian.Uint32(b[14:18])
		flags := binary.BigEndian.Uint16(b[26:28])
		ch := VirtualChannel{
			ShortName:        DecodeUTF16(b[0:14]),
			Major:            uint16(word>>18) & 0x03FF,
			Minor:            uint16(word>>8) & 0x03FF,
			Modulation:       byte(word),
			CarrierFrequency: binary.BigEndian.Uint32(b[18:22]),
			TSID:             binary.BigEndian.Uint16(b[22:24]),
			ProgramNumber:    binary.BigEndian.Uint16(b[24:26]),
			AccessControlled: flags&0x2000 != 0,
			Hidden:           flags&0x1000 != 0,
			ServiceType:      byte(flags & 0x3F),
			SourceID:         binary.BigEndian.Uint16(b[28:30]),
		}
		dl := int(binary.BigEndian.Uint16(b[30:32]) & 0x03FF)
		b = b[vctChannelLen:]
		if len(b) < dl {
			return vct, fmt.Errorf("%w: vct channel %d descriptors", ErrShortSection, i)
		}
		var err error
		if ch.Descriptors, err = ParseDescriptors(b[:dl]); err != nil {
			return vct, err
		}
		b = b[dl:]
		vct.Channels = append(vct.Channels, ch)
	}
	return vct, nil
}
