// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package psi

import (
	"encoding/binary"

	"github.com/Comcast/gots/v2/packet"
)

// Assembler reassembles PSI sections from the transport packets of one PID.
// Sections may span packets and several sections may share one packet.
type Assembler struct {
	buf     []byte
	started bool
	lastCC  int
}

// NewAssembler returns an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{lastCC: -1}
}

// Push feeds one 188-byte packet and returns the raw sections it completed.
func (a *Assembler) Push(b []byte) [][]byte {
	if len(b) < packet.PacketSize {
		return nil
	}
	var pkt packet.Packet
	copy(pkt[:], b[:packet.PacketSize])

	payload, err := pkt.Payload()
	if err != nil || len(payload) == 0 {
		return nil
	}
	cc := pkt.ContinuityCounter()
	pusi := pkt.PayloadUnitStartIndicator()

	if cc == a.lastCC {
		// duplicate packet
		return nil
	}
	if !pusi && a.started && a.lastCC >= 0 && cc != (a.lastCC+1)&0x0F {
		a.reset()
	}
	a.lastCC = cc

	var out [][]byte
	if pusi {
		ptr := int(payload[0])
		if 1+ptr > len(payload) {
			a.reset()
			return nil
		}
		if a.started {
			a.buf = append(a.buf, payload[1:1+ptr]...)
			out = a.drain()
		}
		a.buf = append(a.buf[:0:0], payload[1+ptr:]...)
		a.started = true
	} else {
		if !a.started {
			return nil
		}
		a.buf = append(a.buf, payload...)
	}
	return append(out, a.drain()...)
}

func (a *Assembler) reset() {
	a.buf = nil
	a.started = false
}

func (a *Assembler) drain() [][]byte {
	var out [][]byte
	for a.started {
		if len(a.buf) == 0 || a.buf[0] == 0xFF {
			// stuffing until the next payload unit start
			a.reset()
			break
		}
		if len(a.buf) < 3 {
			break
		}
		n := 3 + int(binary.BigEndian.Uint16(a.buf[1:3])&0x0FFF)
		if len(a.buf) < n {
			break
		}
		out = append(out, append([]byte(nil), a.buf[:n]...))
		a.buf = a.buf[n:]
	}
	return out
}
