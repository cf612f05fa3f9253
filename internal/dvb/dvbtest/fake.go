// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package dvbtest provides in-memory tuner and demux fakes.
package dvbtest

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/ManuGH/tvd/internal/dvb"
)

// Device is a scripted dvb.Device. PIDs without a script yield idle filters
// that block until closed.
type Device struct {
	mu sync.Mutex

	// OpenErr, TuneErr, FilterErr and SECErr are returned by the matching
	// calls when set.
	OpenErr   error
	TuneErr   error
	FilterErr error
	SECErr    error
	// LockAfter is the number of ReadStatus calls before lock is reported.
	// A negative value never locks.
	LockAfter int
	// Stat is reported by ReadStatus (Lock is computed).
	Stat dvb.Status

	opened     bool
	openCount  int
	closeCount int
	polls      int
	tuned      []dvb.TuneParams
	sec        []string
	scripts    map[uint16][][]byte
	filters    []*Filter
}

// NewDevice returns a device that locks on the first status poll.
func NewDevice() *Device {
	return &Device{scripts: make(map[uint16][][]byte)}
}

// Script queues chunks returned, in order, by the next filter opened on pid.
func (d *Device) Script(pid uint16, chunks ...[]byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scripts[pid] = append(d.scripts[pid], chunks...)
}

func (d *Device) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return d.OpenErr
	}
	d.opened = true
	d.openCount++
	return nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = false
	d.closeCount++
	return nil
}

func (d *Device) Tune(p dvb.TuneParams) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return dvb.ErrNotOpen
	}
	if d.TuneErr != nil {
		return d.TuneErr
	}
	d.polls = 0
	d.tuned = append(d.tuned, p)
	return nil
}

func (d *Device) ReadStatus() (dvb.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return dvb.Status{}, dvb.ErrNotOpen
	}
	d.polls++
	st := d.Stat
	st.Lock = d.LockAfter >= 0 && d.polls > d.LockAfter
	return st, nil
}

func (d *Device) OpenFilter(pid uint16) (dvb.Filter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FilterErr != nil {
		return nil, d.FilterErr
	}
	f := &Filter{pid: pid, data: make(chan []byte, len(d.scripts[pid])+1), closed: make(chan struct{})}
	for _, c := range d.scripts[pid] {
		f.data <- c
	}
	d.filters = append(d.filters, f)
	return f, nil
}

func (d *Device) secOp(format string, args ...any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return dvb.ErrNotOpen
	}
	if d.SECErr != nil {
		return d.SECErr
	}
	d.sec = append(d.sec, fmt.Sprintf(format, args...))
	return nil
}

func (d *Device) SetVoltage(v dvb.Voltage) error { return d.secOp("voltage %d", v) }
func (d *Device) SetTone(on bool) error          { return d.secOp("tone %t", on) }
func (d *Device) SendDiSEqC(msg []byte) error    { return d.secOp("diseqc % x", msg) }
func (d *Device) SendBurst(b bool) error         { return d.secOp("burst %t", b) }

// SEC returns the equipment control operations in order, formatted as
// "tone true", "voltage 2", "diseqc e0 10 38 f0" or "burst false".
func (d *Device) SEC() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.sec...)
}

// IsOpen reports whether the device is currently open.
func (d *Device) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened
}

// OpenCount returns how many times Open succeeded.
func (d *Device) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.openCount
}

// Tuned returns every parameter set passed to Tune.
func (d *Device) Tuned() []dvb.TuneParams {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dvb.TuneParams(nil), d.tuned...)
}

// Filters returns every filter opened so far.
func (d *Device) Filters() []*Filter {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Filter(nil), d.filters...)
}

// OpenFilters returns the filters that have not been closed.
func (d *Device) OpenFilters() []*Filter {
	var out []*Filter
	for _, f := range d.Filters() {
		if !f.Closed() {
			out = append(out, f)
		}
	}
	return out
}

// Filter is a fake demux descriptor.
type Filter struct {
	pid     uint16
	data    chan []byte
	pending []byte

	mu       sync.Mutex
	closed   chan struct{}
	isClosed bool
}

func (f *Filter) PID() uint16 { return f.pid }

// Push delivers chunk to a reader of the open filter.
func (f *Filter) Push(chunk []byte) error {
	select {
	case <-f.closed:
		return os.ErrClosed
	default:
	}
	select {
	case f.data <- chunk:
		return nil
	case <-f.closed:
		return os.ErrClosed
	}
}

func (f *Filter) Read(p []byte) (int, error) {
	if len(f.pending) == 0 {
		select {
		case <-f.closed:
			return 0, os.ErrClosed
		default:
		}
		select {
		case b := <-f.data:
			f.pending = b
		case <-f.closed:
			return 0, os.ErrClosed
		}
	}
	n := copy(p, f.pending)
	f.pending = f.pending[n:]
	return n, nil
}

func (f *Filter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.isClosed {
		return errors.New("dvbtest: filter already closed")
	}
	f.isClosed = true
	close(f.closed)
	return nil
}

// Closed reports whether Close has been called.
func (f *Filter) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.isClosed
}

var (
	_ dvb.Device = (*Device)(nil)
	_ dvb.SEC    = (*Device)(nil)
)
