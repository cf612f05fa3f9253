// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pump

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Comcast/gots/v2/packet"

	"github.com/ManuGH/tvd/internal/psi"
)

// durationProbe bounds how much of each end of a file is searched.
const durationProbe = 8 << 20

var ErrNoTimestamps = errors.New("pump: no timestamps in recording")

// Duration returns the time between the first and the last timestamp of the
// recording at path.
func Duration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return DurationOf(f, fi.Size())
}

// DurationOf measures a transport stream of the given size. The reference
// PID is the first one carrying a timestamp.
func DurationOf(r io.ReaderAt, size int64) (time.Duration, error) {
	head := io.NewSectionReader(r, 0, min(size, durationProbe))
	pid, first, ok, err := scanTimestamps(head, -1, true)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNoTimestamps
	}

	start := size - durationProbe
	if start < 0 {
		start = 0
	}
	start -= start % PacketSize
	_, last, ok, err := scanTimestamps(io.NewSectionReader(r, start, size-start), pid, false)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: pid %d", ErrNoTimestamps, pid)
	}
	return ticks((last - first) & tsMask), nil
}

// scanTimestamps returns the first (or last) timestamp on pid; pid -1 takes
// whichever PID carries one first.
func scanTimestamps(r io.Reader, pid int, firstOnly bool) (int, uint64, bool, error) {
	buf := make([]byte, PacketSize)
	var (
		ts    uint64
		found bool
	)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return pid, ts, found, nil
			}
			return pid, ts, found, err
		}
		if buf[0] != 0x47 {
			return pid, ts, found, ErrLostSync
		}
		var pkt packet.Packet
		copy(pkt[:], buf)
		p := pkt.PID()
		if pid >= 0 && p != pid {
			continue
		}
		if !psi.TimestampPID(uint16(p)) {
			continue
		}
		t, ok := psi.Timestamp(buf)
		if !ok {
			continue
		}
		pid, ts, found = p, t, true
		if firstOnly {
			return pid, ts, true, nil
		}
	}
}
