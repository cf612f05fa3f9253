// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package psi parses and builds MPEG-2 / DVB / ATSC program specific
// information: PAT, PMT, CAT, NIT, SDT and VCT sections.
package psi

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Well-known PIDs.
const (
	PIDPAT  uint16 = 0x0000
	PIDCAT  uint16 = 0x0001
	PIDNIT  uint16 = 0x0010
	PIDSDT  uint16 = 0x0011
	PIDVCT  uint16 = 0x1FFB
	PIDNull uint16 = 0x1FFF
)

// Table ids.
const (
	TablePAT       byte = 0x00
	TableCAT       byte = 0x01
	TablePMT       byte = 0x02
	TableNITActual byte = 0x40
	TableNITOther  byte = 0x41
	TableSDTActual byte = 0x42
	TableSDTOther  byte = 0x46
	TableTVCT      byte = 0xC8
	TableCVCT      byte = 0xC9
)

var (
	ErrShortSection = errors.New("psi: section truncated")
	ErrSyntax       = errors.New("psi: not a long-form section")
	ErrCRC          = errors.New("psi: crc mismatch")
	ErrTableID      = errors.New("psi: unexpected table id")
)

// Section is one long-form PSI section. Body excludes the 8-byte header and
// the trailing CRC.
type Section struct {
	TableID           byte
	Ext               uint16
	Version           byte
	CurrentNext       bool
	SectionNumber     byte
	LastSectionNumber byte
	Body              []byte
	Raw               []byte
}

// ParseSection validates framing and CRC of a complete long-form section.
func ParseSection(raw []byte) (Section, error) {
	if len(raw) < 3 {
		return Section{}, ErrShortSection
	}
	if raw[1]&0x80 == 0 {
		return Section{}, ErrSyntax
	}
	length := 3 + int(binary.BigEndian.Uint16(raw[1:3])&0x0FFF)
	if length < 12 || len(raw) < length {
		return Section{}, fmt.Errorf("%w: have %d want %d", ErrShortSection, len(raw), length)
	}
	raw = raw[:length]
	if Checksum(raw[:length-4]) != binary.BigEndian.Uint32(raw[length-4:]) {
		return Section{}, fmt.Errorf("%w: table 0x%02x", ErrCRC, raw[0])
	}
	return Section{
		TableID:           raw[0],
		Ext:               binary.BigEndian.Uint16(raw[3:5]),
		Version:           (raw[5] >> 1) & 0x1F,
		CurrentNext:       raw[5]&0x01 == 1,
		SectionNumber:     raw[6],
		LastSectionNumber: raw[7],
		Body:              raw[8 : length-4],
		Raw:               raw,
	}, nil
}

// Table is a complete set of sections sharing table id, extension and version.
type Table struct {
	TableID  byte
	Ext      uint16
	Version  byte
	Sections []Section
}

// Collector gathers the sections of one table until every section number
// from 0 to last_section_number has been seen. A version change restarts
// collection.
type Collector struct {
	tableID byte
	ext     int
	version int
	last    int
	got     map[byte]Section
}

// NewCollector collects sections of tableID. ext < 0 accepts any extension.
func NewCollector(tableID byte, ext int) *Collector {
	return &Collector{tableID: tableID, ext: ext, version: -1, got: make(map[byte]Section)}
}

// Add offers a section and reports whether the table is complete.
func (c *Collector) Add(s Section) bool {
	if s.TableID != c.tableID || !s.CurrentNext {
		return false
	}
	if c.ext >= 0 && int(s.Ext) != c.ext {
		return false
	}
	if int(s.Version) != c.version {
		c.version = int(s.Version)
		c.ext = int(s.Ext)
		c.got = make(map[byte]Section)
	}
	c.last = int(s.LastSectionNumber)
	c.got[s.SectionNumber] = s
	return c.Complete()
}

// Complete reports whether all sections have been collected.
func (c *Collector) Complete() bool {
	if c.version < 0 {
		return false
	}
	for i := 0; i <= c.last; i++ {
		if _, ok := c.got[byte(i)]; !ok {
			return false
		}
	}
	return true
}

// Table returns the collected sections in section-number order.
func (c *Collector) Table() Table {
	t := Table{TableID: c.tableID, Version: byte(c.version)}
	if c.ext >= 0 {
		t.Ext = uint16(c.ext)
	}
	for i := 0; i <= c.last; i++ {
		if s, ok := c.got[byte(i)]; ok {
			t.Sections = append(t.Sections, s)
		}
	}
	return t
}
