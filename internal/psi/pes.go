// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package psi

import (
	"github.com/Comcast/gots/v2/packet"
)

// ClockRate is the PTS/DTS clock frequency.
const ClockRate = 90000

// PES stream ids without the optional header carrying timestamps.
var noHeaderStreams = map[byte]bool{
	0xBC: true, // program stream map
	0xBE: true, // padding
	0xBF: true, // private stream 2
	0xF0: true, // ECM
	0xF1: true, // EMM
	0xF2: true, // DSMCC
	0xF8: true, // H.222.1 type E
	0xFF: true, // program stream directory
}

// TimestampPID reports whether pid may carry timestamped elementary streams.
func TimestampPID(pid uint16) bool {
	return (pid >= 0x20 && pid <= 0x1FFA) || (pid >= 0x1FFC && pid <= 0x1FFE)
}

// Timestamp extracts the DTS, or the PTS when no DTS is present, from a
// transport packet starting a PES packet.
func Timestamp(b []byte) (uint64, bool) {
	if len(b) < packet.PacketSize {
		return 0, false
	}
	var pkt packet.Packet
	copy(pkt[:], b[:packet.PacketSize])
	if !pkt.PayloadUnitStartIndicator() {
		return 0, false
	}
	p, err := pkt.Payload()
	if err != nil || len(p) < 9 {
		return 0, false
	}
	if p[0] != 0 || p[1] != 0 || p[2] != 1 || noHeaderStreams[p[3]] {
		return 0, false
	}
	if p[6]&0xC0 != 0x80 {
		return 0, false
	}
	flags := p[7] >> 6
	switch {
	case flags == 3 && len(p) >= 19:
		return decodeTimestamp(p[14:19]), true
	case flags >= 2 && len(p) >= 14:
		return decodeTimestamp(p[9:14]), true
	}
	return 0, false
}

func decodeTimestamp(b []byte) uint64 {
	return uint64(b[0]>>1&0x07)<<30 |
		uint64(b[1])<<22 |
		uint64(b[2]>>1)<<15 |
		uint64(b[3])<<7 |
		uint64(b[4]>>1)
}

// EncodeTimestamp writes a 33-bit timestamp with the given 4-bit prefix.
func EncodeTimestamp(prefix byte, ts uint64) []byte {
	return []byte{
		prefix<<4 | byte(ts>>29)&0x0E | 0x01,
		byte(ts >> 22),
		byte(ts>>14) | 0x01,
		byte(ts >> 7),
		byte(ts<<1) | 0x01,
	}
}

// PESPacket builds one transport packet starting a PES packet on pid with
// the given PTS. It is used to synthesize streams.
func PESPacket(pid uint16, cc byte, streamID byte, pts uint64) []byte {
	var pkt packet.Packet
	pkt[0] = 0x47
	pkt[1] = 0x40 | byte(pid>>8)&0x1F
	pkt[2] = byte(pid)
	pkt[3] = 0x10 | cc&0x0F
	hdr := []byte{0, 0, 1, streamID, 0, 0, 0x80, 0x80, 5}
	hdr = append(hdr, EncodeTimestamp(0x2, pts)...)
	n := copy(pkt[4:], hdr)
	for i := 4 + n; i < packet.PacketSize; i++ {
		pkt[i] = 0xFF
	}
	return pkt[:]
}
