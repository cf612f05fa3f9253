// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package psi

import (
	"encoding/binary"
	"fmt"
)

// Descriptor tags used by the scanner.
const (
	TagCA                  byte = 0x09
	TagISO639Language      byte = 0x0A
	TagNetworkName         byte = 0x40
	TagServiceList         byte = 0x41
	TagSatelliteDelivery   byte = 0x43
	TagCableDelivery       byte = 0x44
	TagService             byte = 0x48
	TagTerrestrialDelivery byte = 0x5A
	TagAC3                 byte = 0x6A
	TagEnhancedAC3         byte = 0x7A
	TagAAC                 byte = 0x7C
	TagATSCAC3             byte = 0x81
)

// Descriptor is one tag-length-value entry of a descriptor loop.
type Descriptor struct {
	Tag  byte
	Data []byte
}

// Bytes encodes the descriptor.
func (d Descriptor) Bytes() []byte {
	return append([]byte{d.Tag, byte(len(d.Data))}, d.Data...)
}

// ParseDescriptors splits a descriptor loop.
func ParseDescriptors(b []byte) ([]Descriptor, error) {
	var out []Descriptor
	for len(b) > 0 {
		if len(b) < 2 {
			return out, fmt.Errorf("%w: descriptor header", ErrShortSection)
		}
		n := int(b[1])
		if len(b) < 2+n {
			return out, fmt.Errorf("%w: descriptor 0x%02x wants %d bytes", ErrShortSection, b[0], n)
		}
		out = append(out, Descriptor{Tag: b[0], Data: b[2 : 2+n]})
		b = b[2+n:]
	}
	return out, nil
}

func encodeDescriptors(ds []Descriptor) []byte {
	var out []byte
	for _, d := range ds {
		out = append(out, d.Bytes()...)
	}
	return out
}

// Find returns the first descriptor with tag.
func Find(ds []Descriptor, tag byte) (Descriptor, bool) {
	for _, d := range ds {
		if d.Tag == tag {
			return d, true
		}
	}
	return Descriptor{}, false
}

// CA is a conditional access descriptor: CA system id and the PID carrying
// ECMs (in a PMT) or EMMs (in the CAT).
type CA struct {
	SystemID uint16
	PID      uint16
}

// ParseCA decodes a CA descriptor.
func ParseCA(d Descriptor) (CA, error) {
	if d.Tag != TagCA || len(d.Data) < 4 {
		return CA{}, fmt.Errorf("%w: ca descriptor", ErrShortSection)
	}
	return CA{
		SystemID: binary.BigEndian.Uint16(d.Data[0:2]),
		PID:      binary.BigEndian.Uint16(d.Data[2:4]) & 0x1FFF,
	}, nil
}

// CADescriptor encodes a CA descriptor.
func CADescriptor(ca CA) Descriptor {
	b := make([]byte, 4)
	binary.BigEndian.PutUint16(b[0:2], ca.SystemID)
	binary.BigEndian.PutUint16(b[2:4], 0xE000|ca.PID&0x1FFF)
	return Descriptor{Tag: TagCA, Data: b}
}

func collectCA(ds []Descriptor) []CA {
	var out []CA
	for _, d := range ds {
		if d.Tag != TagCA {
			continue
		}
		if ca, err := ParseCA(d); err == nil {
			out = append(out, ca)
		}
	}
	return out
}

// ServiceInfo is the content of a DVB service descriptor.
type ServiceInfo struct {
	Type     byte
	Provider string
	Name     string
}

// ParseServiceDescriptor decodes a service descriptor (0x48).
func ParseServiceDescriptor(d Descriptor) (ServiceInfo, error) {
	b := d.Data
	if d.Tag != TagService || len(b) < 2 {
		return ServiceInfo{}, fmt.Errorf("%w: service descriptor", ErrShortSection)
	}
	si := ServiceInfo{Type: b[0]}
	pl := int(b[1])
	if len(b) < 3+pl {
		return si, fmt.Errorf("%w: service provider name", ErrShortSection)
	}
	si.Provider = DecodeText(b[2 : 2+pl])
	b = b[2+pl:]
	nl := int(b[0])
	if len(b) < 1+nl {
		return si, fmt.Errorf("%w: service name", ErrShortSection)
	}
	si.Name = DecodeText(b[1 : 1+nl])
	return si, nil
}

// ServiceDescriptor encodes a service descriptor with single-byte text.
func ServiceDescriptor(si ServiceInfo) Descriptor {
	b := []byte{si.Type, byte(len(si.Provider))}
	b = append(b, si.Provider...)
	b = append(b, byte(len(si.Name)))
	b = append(b, si.Name...)
	return Descriptor{Tag: TagService, Data: b}
}
