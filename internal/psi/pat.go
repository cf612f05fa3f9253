// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package psi

import (
	"encoding/binary"
	"fmt"
	"sort"

	gotspsi "github.com/Comcast/gots/v2/psi"
)

// Program is one PAT entry.
type Program struct {
	Number uint16
	PMTPID uint16
}

// PAT is a decoded program association table.
type PAT struct {
	TSID     uint16
	Version  byte
	NITPID   uint16
	Programs []Program
}

// ParsePAT decodes a PAT section. The program loop is decoded by gots,
// which expects a pointer field ahead of the section. gots leaves out
// program 0, so the network PID is taken from the raw loop.
func ParsePAT(s Section) (PAT, error) {
	if s.TableID != TablePAT {
		return PAT{}, fmt.Errorf("%w: 0x%02x in pat", ErrTableID, s.TableID)
	}
	gp, err := gotspsi.NewPAT(append([]byte{0}, s.Raw...))
	if err != nil {
		return PAT{}, fmt.Errorf("psi: decode pat: %w", err)
	}
	pat := PAT{TSID: s.Ext, Version: s.Version, NITPID: networkPID(s.Body)}
	for num, pid := range gp.ProgramMap() {
		if num == 0 {
			continue
		}
		pat.Programs = append(pat.Programs, Program{Number: uint16(num), PMTPID: uint16(pid)})
	}
	sort.Slice(pat.Programs, func(i, j int) bool { return pat.Programs[i].Number < pat.Programs[j].Number })
	return pat, nil
}

// networkPID returns the PID of program 0 in a PAT program loop, or 0 when
// the loop has none.
func networkPID(loop []byte) uint16 {
	for i := 0; i+4 <= len(loop); i += 4 {
		if binary.BigEndian.Uint16(loop[i:]) == 0 {
			return binary.BigEndian.Uint16(loop[i+2:]) & 0x1FFF
		}
	}
	return 0
}
