// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package psi

import (
	"encoding/binary"
	"fmt"
	"time"
)

// PIDEIT carries the DVB event information tables.
const PIDEIT uint16 = 0x0012

// EIT table ids of the actual transport stream.
const (
	TableEITPresent       byte = 0x4E
	TableEITScheduleFirst byte = 0x50
	TableEITScheduleLast  byte = 0x5F
)

// TagShortEvent is the short event descriptor.
const TagShortEvent byte = 0x4D

// IsEIT reports whether tableID is a present/following or schedule EIT of
// the actual transport stream.
func IsEIT(tableID byte) bool {
	return tableID == TableEITPresent || (tableID >= TableEITScheduleFirst && tableID <= TableEITScheduleLast)
}

// EITEvent is one event loop entry of an EIT section. Start is zero when
// the section leaves it undefined.
type EITEvent struct {
	ID            uint16
	Start         time.Time
	Duration      time.Duration
	RunningStatus byte
	FreeCAMode    bool
	Descriptors   []Descriptor
}

// ShortEvent is the decoded short event descriptor.
type ShortEvent struct {
	Language string
	Name     string
	Text     string
}

// Short decodes the first short event descriptor of e.
func (e EITEvent) Short() (ShortEvent, bool) {
	d, ok := Find(e.Descriptors, TagShortEvent)
	if !ok {
		return ShortEvent{}, false
	}
	b := d.Data
	if len(b) < 4 {
		return ShortEvent{}, false
	}
	se := ShortEvent{Language: string(b[0:3])}
	n := int(b[3])
	b = b[4:]
	if len(b) < n+1 {
		return ShortEvent{}, false
	}
	se.Name = DecodeText(b[:n])
	b = b[n:]
	n = int(b[0])
	b = b[1:]
	if len(b) < n {
		return ShortEvent{}, false
	}
	se.Text = DecodeText(b[:n])
	return se, true
}

// ShortEventDescriptor encodes se. Name and text must fit the descriptor.
func ShortEventDescriptor(se ShortEvent) Descriptor {
	lang := []byte((se.Language + "   ")[:3])
	data := append(lang, byte(len(se.Name)))
	data = append(data, se.Name...)
	data = append(data, byte(len(se.Text)))
	data = append(data, se.Text...)
	return Descriptor{Tag: TagShortEvent, Data: data}
}

// EIT is a decoded event information table section. ServiceID is the table
// extension.
type EIT struct {
	TableID   byte
	ServiceID uint16
	TSID      uint16
	ONID      uint16
	Version   byte
	Events    []EITEvent
}

// ParseEIT decodes an EIT section of the actual transport stream.
func ParseEIT(s Section) (EIT, error) {
	if !IsEIT(s.TableID) {
		return EIT{}, fmt.Errorf("%w: 0x%02x in eit", ErrTableID, s.TableID)
	}
	b := s.Body
	if len(b) < 6 {
		return EIT{}, fmt.Errorf("%w: eit header", ErrShortSection)
	}
	eit := EIT{
		TableID:   s.TableID,
		ServiceID: s.Ext,
		Version:   s.Version,
		TSID:      binary.BigEndian.Uint16(b[0:2]),
		ONID:      binary.BigEndian.Uint16(b[2:4]),
	}
	b = b[6:]
	for len(b) >= 12 {
		ev := EITEvent{
			ID:            binary.BigEndian.Uint16(b[0:2]),
			Start:         decodeMJD(b[2:7]),
			Duration:      decodeBCDDuration(b[7:10]),
			RunningStatus: b[10] >> 5,
			FreeCAMode:    b[10]&0x10 != 0,
		}
		dl := int(binary.BigEndian.Uint16(b[10:12]) & 0x0FFF)
		b = b[12:]
		if len(b) < dl {
			return eit, fmt.Errorf("%w: eit event 0x%x", ErrShortSection, ev.ID)
		}
		var err error
		if ev.Descriptors, err = ParseDescriptors(b[:dl]); err != nil {
			return eit, err
		}
		b = b[dl:]
		eit.Events = append(eit.Events, ev)
	}
	return eit, nil
}

var mjdEpoch = time.Date(1858, time.November, 17, 0, 0, 0, 0, time.UTC)

// decodeMJD decodes a 16-bit modified Julian date followed by a BCD UTC
// time of day.
func decodeMJD(b []byte) time.Time {
	if b[0] == 0xFF && b[1] == 0xFF && b[2] == 0xFF && b[3] == 0xFF && b[4] == 0xFF {
		return time.Time{}
	}
	day := mjdEpoch.AddDate(0, 0, int(binary.BigEndian.Uint16(b[0:2])))
	return day.Add(decodeBCDDuration(b[2:5]))
}

func decodeBCDDuration(b []byte) time.Duration {
	return time.Duration(bcd(b[0:1], 2))*time.Hour +
		time.Duration(bcd(b[1:2], 2))*time.Minute +
		time.Duration(bcd(b[2:3], 2))*time.Second
}

func encodeMJD(t time.Time) []byte {
	if t.IsZero() {
		return []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	}
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	mjd := uint16(day.Sub(mjdEpoch) / (24 * time.Hour))
	return append(binary.BigEndian.AppendUint16(nil, mjd), encodeBCDDuration(t.Sub(day))...)
}

func encodeBCDDuration(d time.Duration) []byte {
	s := int(d / time.Second)
	toBCD := func(v int) byte { return byte(v/10)<<4 | byte(v%10) }
	return []byte{toBCD(s / 3600 % 100), toBCD(s / 60 % 60), toBCD(s % 60)}
}
