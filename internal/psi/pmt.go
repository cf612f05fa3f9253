// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package psi

import (
	"encoding/binary"
	"fmt"
)

// Stream type codes seen in PMT elementary stream loops.
const (
	StreamMPEG1Video  byte = 0x01
	StreamMPEG2Video  byte = 0x02
	StreamMPEG1Audio  byte = 0x03
	StreamMPEG2Audio  byte = 0x04
	StreamPrivateSect byte = 0x05
	StreamPrivatePES  byte = 0x06
	StreamADTS        byte = 0x0F
	StreamLATM        byte = 0x11
	StreamH264        byte = 0x1B
	StreamATSCAC3     byte = 0x81
)

// ElementaryStream is one PMT stream loop entry.
type ElementaryStream struct {
	Type        byte
	PID         uint16
	Descriptors []Descriptor
}

// PMT is a decoded program map table.
type PMT struct {
	ProgramNumber uint16
	Version       byte
	PCRPID        uint16
	Descriptors   []Descriptor
	Streams       []ElementaryStream
}

// CA returns the program level and stream level CA descriptors.
func (p PMT) CA() []CA {
	out := collectCA(p.Descriptors)
	for _, es := range p.Streams {
		out = append(out, collectCA(es.Descriptors)...)
	}
	return out
}

// ParsePMT decodes a PMT section.
func ParsePMT(s Section) (PMT, error) {
	if s.TableID != TablePMT {
		return PMT{}, fmt.Errorf("%w: 0x%02x in pmt", ErrTableID, s.TableID)
	}
	b := s.Body
	if len(b) < 4 {
		return PMT{}, fmt.Errorf("%w: pmt header", ErrShortSection)
	}
	pmt := PMT{
		ProgramNumber: s.Ext,
		Version:       s.Version,
		PCRPID:        binary.BigEndian.Uint16(b[0:2]) & 0x1FFF,
	}
	pil := int(binary.BigEndian.Uint16(b[2:4]) & 0x0FFF)
	b = b[4:]
	if len(b) < pil {
		return pmt, fmt.Errorf("%w: program info", ErrShortSection)
	}
	var err error
	if pmt.Descriptors, err = ParseDescriptors(b[:pil]); err != nil {
		return pmt, err
	}
	b = b[pil:]
	for len(b) >= 5 {
		es := ElementaryStream{
			Type: b[0],
			PID:  binary.BigEndian.Uint16(b[1:3]) & 0x1FFF,
		}
		il := int(binary.BigEndian.Uint16(b[3:5]) & 0x0FFF)
		b = b[5:]
		if len(b) < il {
			return pmt, fmt.Errorf("%w: es info for pid 0x%x", ErrShortSection, es.PID)
		}
		if es.Descriptors, err = ParseDescriptors(b[:il]); err != nil {
			return pmt, err
		}
		b = b[il:]
		pmt.Streams = append(pmt.Streams, es)
	}
	return pmt, nil
}
