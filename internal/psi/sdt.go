// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package psi

import (
	"encoding/binary"
	"fmt"
)

// SDTService is one service loop entry of an SDT.
type SDTService struct {
	ServiceID     uint16
	EITSchedule   bool
	EITPresent    bool
	RunningStatus byte
	FreeCAMode    bool
	Descriptors   []Descriptor
}

// Info decodes the service descriptor, if any.
func (s SDTService) Info() (ServiceInfo, bool) {
	d, ok := Find(s.Descriptors, TagService)
	if !ok {
		return ServiceInfo{}, false
	}
	si, err := ParseServiceDescriptor(d)
	if err != nil {
		return ServiceInfo{}, false
	}
	return si, true
}

// SDT is a decoded service description table section.
type SDT struct {
	TSID     uint16
	ONID     uint16
	Version  byte
	Services []SDTService
}

// ParseSDT decodes an SDT section (actual or other).
func ParseSDT(s Section) (SDT, error) {
	if s.TableID != TableSDTActual && s.TableID != TableSDTOther {
		return SDT{}, fmt.Errorf("%w: 0x%02x in sdt", ErrTableID, s.TableID)
	}
	b := s.Body
	if len(b) < 3 {
		return SDT{}, fmt.Errorf("%w: sdt header", ErrShortSection)
	}
	sdt := SDT{TSID: s.Ext, Version: s.Version, ONID: binary.BigEndian.Uint16(b[0:2])}
	b = b[3:]
	for len(b) >= 5 {
		svc := SDTService{
			ServiceID:     binary.BigEndian.Uint16(b[0:2]),
			EITSchedule:   b[2]&0x02 != 0,
			EITPresent:    b[2]&0x01 != 0,
			RunningStatus: b[3] >> 5,
			FreeCAMode:    b[3]&0x10 != 0,
		}
		dl := int(binary.BigEndian.Uint16(b[3:5]) & 0x0FFF)
		b = b[5:]
		if len(b) < dl {
			return sdt, fmt.Errorf("%w: sdt service 0x%x", ErrShortSection, svc.ServiceID)
		}
		var err error
		if svc.Descriptors, err = ParseDescriptors(b[:dl]); err != nil {
			return sdt, err
		}
		b = b[dl:]
		sdt.Services = append(sdt.Services, svc)
	}
	return sdt, nil
}
