// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package psi

import (
	"encoding/binary"

	"github.com/Comcast/gots/v2/packet"
)

// BuildSection encodes a single long-form section (section 0 of 0) with a
// valid CRC.
func BuildSection(tableID byte, ext uint16, version byte, body []byte) []byte {
	n := 5 + len(body) + 4
	out := make([]byte, 0, 3+n)
	out = append(out, tableID, 0xB0|byte(n>>8)&0x0F, byte(n))
	out = binary.BigEndian.AppendUint16(out, ext)
	out = append(out, 0xC1|(version&0x1F)<<1, 0, 0)
	out = append(out, body...)
	return binary.BigEndian.AppendUint32(out, Checksum(out))
}

// BuildPAT encodes a PAT.
func BuildPAT(tsid uint16, version byte, programs []Program) []byte {
	var body []byte
	for _, p := range programs {
		body = binary.BigEndian.AppendUint16(body, p.Number)
		body = binary.BigEndian.AppendUint16(body, 0xE000|p.PMTPID&0x1FFF)
	}
	return BuildSection(TablePAT, tsid, version, body)
}

// BuildPMT encodes a PMT.
func BuildPMT(pmt PMT) []byte {
	pi := encodeDescriptors(pmt.Descriptors)
	body := binary.BigEndian.AppendUint16(nil, 0xE000|pmt.PCRPID&0x1FFF)
	body = binary.BigEndian.AppendUint16(body, 0xF000|uint16(len(pi))&0x0FFF)
	body = append(body, pi...)
	for _, es := range pmt.Streams {
		ei := encodeDescriptors(es.Descriptors)
		body = append(body, es.Type)
		body = binary.BigEndian.AppendUint16(body, 0xE000|es.PID&0x1FFF)
		body = binary.BigEndian.AppendUint16(body, 0xF000|uint16(len(ei))&0x0FFF)
		body = append(body, ei...)
	}
	return BuildSection(TablePMT, pmt.ProgramNumber, pmt.Version, body)
}

// BuildSDT encodes an SDT actual section.
func BuildSDT(sdt SDT) []byte {
	body := binary.BigEndian.AppendUint16(nil, sdt.ONID)
	body = append(body, 0xFF)
	for _, s := range sdt.Services {
		ds := encodeDescriptors(s.Descriptors)
		body = binary.BigEndian.AppendUint16(body, s.ServiceID)
		flags := byte(0xFC)
		if s.EITSchedule {
			flags |= 0x02
		}
		if s.EITPresent {
			flags |= 0x01
		}
		body = append(body, flags)
		word := uint16(s.RunningStatus&0x07)<<13 | uint16(len(ds))&0x0FFF
		if s.FreeCAMode {
			word |= 0x1000
		}
		body = binary.BigEndian.AppendUint16(body, word)
		body = append(body, ds...)
	}
	return BuildSection(TableSDTActual, sdt.TSID, sdt.Version, body)
}

// BuildNIT encodes a NIT actual section.
func BuildNIT(nit NIT) []byte {
	nd := encodeDescriptors(nit.Descriptors)
	body := binary.BigEndian.AppendUint16(nil, 0xF000|uint16(len(nd))&0x0FFF)
	body = append(body, nd...)
	var loop []byte
	for _, ts := range nit.Transports {
		td := encodeDescriptors(ts.Descriptors)
		loop = binary.BigEndian.AppendUint16(loop, ts.TSID)
		loop = binary.BigEndian.AppendUint16(loop, ts.ONID)
		loop = binary.BigEndian.AppendUint16(loop, 0xF000|uint16(len(td))&0x0FFF)
		loop = append(loop, td...)
	}
	body = binary.BigEndian.AppendUint16(body, 0xF000|uint16(len(loop))&0x0FFF)
	body = append(body, loop...)
	return BuildSection(TableNITActual, nit.NetworkID, nit.Version, body)
}

// BuildVCT encodes a terrestrial VCT section.
func BuildVCT(vct VCT) []byte {
	body := []byte{0, byte(len(vct.Channels))}
	for _, ch := range vct.Channels {
		ds := encodeDescriptors(ch.Descriptors)
		body = append(body, EncodeUTF16(ch.ShortName, 14)...)
		word := uint32(0xF)<<28 | uint32(ch.Major&0x03FF)<<18 | uint32(ch.Minor&0x03FF)<<8 | uint32(ch.Modulation)
		body = binary.BigEndian.AppendUint32(body, word)
		body = binary.BigEndian.AppendUint32(body, ch.CarrierFrequency)
		body = binary.BigEndian.AppendUint16(body, ch.TSID)
		body = binary.BigEndian.AppendUint16(body, ch.ProgramNumber)
		flags := uint16(0x0DC0) | uint16(ch.ServiceType&0x3F)
		if ch.AccessControlled {
			flags |= 0x2000
		}
		if ch.Hidden {
			flags |= 0x1000
		}
		body = binary.BigEndian.AppendUint16(body, flags)
		body = binary.BigEndian.AppendUint16(body, ch.SourceID)
		body = binary.BigEndian.AppendUint16(body, 0xFC00|uint16(len(ds))&0x03FF)
		body = append(body, ds...)
	}
	body = binary.BigEndian.AppendUint16(body, 0xFC00)
	return BuildSection(TableTVCT, vct.TSID, vct.Version, body)
}

// BuildCAT encodes a CAT section listing the given CA descriptors.
func BuildCAT(version byte, cas []CA) []byte {
	var body []byte
	for _, ca := range cas {
		body = append(body, CADescriptor(ca).Bytes()...)
	}
	return BuildSection(TableCAT, 0xFFFF, version, body)
}

// BuildEIT encodes an EIT section under eit.TableID, or present/following
// when it is zero.
func BuildEIT(eit EIT) []byte {
	tid := eit.TableID
	if tid == 0 {
		tid = TableEITPresent
	}
	body := binary.BigEndian.AppendUint16(nil, eit.TSID)
	body = binary.BigEndian.AppendUint16(body, eit.ONID)
	body = append(body, 0, tid)
	for _, ev := range eit.Events {
		ds := encodeDescriptors(ev.Descriptors)
		body = binary.BigEndian.AppendUint16(body, ev.ID)
		body = append(body, encodeMJD(ev.Start)...)
		body = append(body, encodeBCDDuration(ev.Duration)...)
		word := uint16(ev.RunningStatus&0x07)<<13 | uint16(len(ds))&0x0FFF
		if ev.FreeCAMode {
			word |= 0x1000
		}
		body = binary.BigEndian.AppendUint16(body, word)
		body = append(body, ds...)
	}
	return BuildSection(tid, eit.ServiceID, eit.Version, body)
}

// Packetizer splits sections into transport packets for one PID, keeping the
// continuity counter across calls.
type Packetizer struct {
	pid uint16
	cc  byte
}

// NewPacketizer returns a packetizer for pid.
func NewPacketizer(pid uint16) *Packetizer {
	return &Packetizer{pid: pid}
}

// Packetize returns the 188-byte packets carrying section, padded with 0xFF.
func (p *Packetizer) Packetize(section []byte) []byte {
	var out []byte
	first := true
	for first || len(section) > 0 {
		var pkt packet.Packet
		pkt[0] = 0x47
		pkt[1] = byte(p.pid>>8) & 0x1F
		if first {
			pkt[1] |= 0x40
		}
		pkt[2] = byte(p.pid)
		pkt[3] = 0x10 | p.cc&0x0F
		p.cc = (p.cc + 1) & 0x0F

		payload := pkt[4:]
		if first {
			payload[0] = 0
			payload = payload[1:]
			first = false
		}
		n := copy(payload, section)
		for i := n; i < len(payload); i++ {
			payload[i] = 0xFF
		}
		section = section[n:]
		out = append(out, pkt[:]...)
	}
	return out
}
