// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build linux

// Package linuxdvb drives /dev/dvb/adapterN devices through the Linux DVB API.
package linuxdvb

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unsafe"

	"github.com/ziutek/dvb"
	"github.com/ziutek/dvb/linuxdvb/demux"
	"github.com/ziutek/dvb/linuxdvb/frontend"
	"golang.org/x/sys/unix"

	tvdvb "github.com/ManuGH/tvd/internal/dvb"
	xglog "github.com/ManuGH/tvd/internal/log"
	"github.com/rs/zerolog"
)

// statusWait bounds one ReadStatus call; the frontend polls at its own cadence.
const statusWait = 50 * time.Millisecond

// Equipment control ioctls from linux/dvb/frontend.h.
const (
	ioctlDiseqcSendMasterCmd = 0x40076f3f // _IOW('o', 63, struct dvb_diseqc_master_cmd)
	ioctlDiseqcSendBurst     = 0x6f41     // _IO('o', 65)

	secMiniA = 0
	secMiniB = 1
)

// diseqcMasterCmd mirrors struct dvb_diseqc_master_cmd.
type diseqcMasterCmd struct {
	msg [6]byte
	len uint8
}

// filterBufferPackets sizes the kernel demux ring per filter.
const filterBufferPackets = 1024

// Device is one adapter/frontend pair.
type Device struct {
	adapter int
	index   int
	logger  zerolog.Logger

	mu     sync.Mutex
	fe     frontend.Device
	opened bool
	last   tvdvb.Status
}

// New returns an unopened device for /dev/dvb/adapter<adapter>/frontend<index>.
func New(adapter, index int) *Device {
	return &Device{
		adapter: adapter,
		index:   index,
		logger: xglog.WithComponent("linuxdvb").With().
			Int(xglog.FieldAdapter, adapter).
			Int(xglog.FieldFrontend, index).
			Logger(),
	}
}

func (d *Device) frontendPath() string {
	return fmt.Sprintf("/dev/dvb/adapter%d/frontend%d", d.adapter, d.index)
}

func (d *Device) demuxPath() string {
	return fmt.Sprintf("/dev/dvb/adapter%d/demux%d", d.adapter, d.index)
}

func (d *Device) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.opened {
		return nil
	}
	fe, err := frontend.Open(d.frontendPath())
	if err != nil {
		return fmt.Errorf("open %s: %w", d.frontendPath(), err)
	}
	d.fe = fe
	d.opened = true
	return nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return nil
	}
	d.opened = false
	d.last = tvdvb.Status{}
	return d.fe.Close()
}

func (d *Device) Tune(p tvdvb.TuneParams) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return tvdvb.ErrNotOpen
	}
	d.last = tvdvb.Status{}

	sys, err := deliverySystem(p.System)
	if err != nil {
		return err
	}
	fe := d.fe
	if err := fe.SetDeliverySystem(sys); err != nil {
		return fmt.Errorf("set delivery system: %w", err)
	}
	if err := fe.SetModulation(modulation(p.Modulation)); err != nil {
		return fmt.Errorf("set modulation: %w", err)
	}
	if err := fe.SetFrequency(p.Frequency); err != nil {
		return fmt.Errorf("set frequency: %w", err)
	}
	if err := fe.SetInversion(dvb.InversionAuto); err != nil {
		return fmt.Errorf("set inversion: %w", err)
	}

	switch p.System.Family() {
	case tvdvb.FamilySatellite:
		if err := fe.SetSymbolRate(p.SymbolRate); err != nil {
			return fmt.Errorf("set symbol rate: %w", err)
		}
		if err := fe.SetInnerFEC(dvb.FECAuto); err != nil {
			return fmt.Errorf("set inner fec: %w", err)
		}
	case tvdvb.FamilyCable:
		if err := fe.SetSymbolRate(p.SymbolRate); err != nil {
			return fmt.Errorf("set symbol rate: %w", err)
		}
		if err := fe.SetInnerFEC(dvb.FECAuto); err != nil {
			return fmt.Errorf("set inner fec: %w", err)
		}
	case tvdvb.FamilyTerrestrial:
		if p.Bandwidth > 0 {
			if err := fe.SetBandwidth(p.Bandwidth); err != nil {
				return fmt.Errorf("set bandwidth: %w", err)
			}
		}
		if err := fe.SetCodeRateHP(dvb.FECAuto); err != nil {
			return fmt.Errorf("set code rate hp: %w", err)
		}
		if err := fe.SetCodeRateLP(dvb.FECAuto); err != nil {
			return fmt.Errorf("set code rate lp: %w", err)
		}
	}

	if err := fe.Tune(); err != nil {
		return fmt.Errorf("tune: %w", err)
	}
	return nil
}

// SetVoltage sets the LNB supply voltage.
func (d *Device) SetVoltage(v tvdvb.Voltage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return tvdvb.ErrNotOpen
	}
	return d.fe.SetVoltage(voltage(v))
}

// SetTone switches the 22 kHz band tone.
func (d *Device) SetTone(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return tvdvb.ErrNotOpen
	}
	tone := frontend.ToneOff
	if on {
		tone = frontend.ToneOn
	}
	return d.fe.SetTone(tone)
}

// SendDiSEqC sends one DiSEqC master command of up to six bytes.
func (d *Device) SendDiSEqC(msg []byte) error {
	if len(msg) < 3 || len(msg) > 6 {
		return fmt.Errorf("diseqc message length %d", len(msg))
	}
	var cmd diseqcMasterCmd
	copy(cmd.msg[:], msg)
	cmd.len = uint8(len(msg))

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return tvdvb.ErrNotOpen
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.fe.Fd(), ioctlDiseqcSendMasterCmd, uintptr(unsafe.Pointer(&cmd)))
	if errno != 0 {
		return errno
	}
	d.logger.Debug().Hex("diseqc", msg).Msg("diseqc command sent")
	return nil
}

// SendBurst sends the mini DiSEqC tone burst A, or B when b is set.
func (d *Device) SendBurst(b bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return tvdvb.ErrNotOpen
	}
	burst := secMiniA
	if b {
		burst = secMiniB
	}
	return unix.IoctlSetInt(int(d.fe.Fd()), ioctlDiseqcSendBurst, burst)
}

// ReadStatus waits briefly for a frontend event and reports the latest lock
// state plus quality counters.
func (d *Device) ReadStatus() (tvdvb.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return tvdvb.Status{}, tvdvb.ErrNotOpen
	}
	fe3 := frontend.API3{Device: d.fe}
	var ev frontend.Event
	timedout, err := fe3.WaitEvent(&ev, time.Now().Add(statusWait))
	if err != nil {
		return d.last, fmt.Errorf("wait event: %w", err)
	}
	if !timedout {
		d.last.Lock = ev.Status()&frontend.HasLock != 0
	}
	if d.last.Lock {
		if v, err := fe3.ReadSignalStrength(); err == nil {
			d.last.Signal = uint16(v)
		}
		if v, err := fe3.ReadSNR(); err == nil {
			d.last.SNR = uint16(v)
		}
		if v, err := fe3.ReadBER(); err == nil {
			d.last.BER = v
		}
	}
	return d.last, nil
}

func (d *Device) OpenFilter(pid uint16) (tvdvb.Filter, error) {
	dmx := demux.Device(d.demuxPath())
	f, err := dmx.NewStreamFilter(&demux.StreamFilterParam{
		Pid:  int16(pid),
		In:   demux.InFrontend,
		Out:  demux.OutTSDemuxTap,
		Type: demux.Other,
	})
	if err != nil {
		return nil, fmt.Errorf("demux filter pid %d: %w", pid, err)
	}
	if err := f.SetBufferSize(filterBufferPackets * tvdvb.PacketSize); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("demux buffer pid %d: %w", pid, err)
	}
	if err := f.Start(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("demux start pid %d: %w", pid, err)
	}
	return &filter{pid: pid, f: f}, nil
}

type filter struct {
	pid uint16
	f   demux.StreamFilter
}

func (f *filter) PID() uint16                { return f.pid }
func (f *filter) Read(p []byte) (int, error) { return f.f.Read(p) }
func (f *filter) Close() error               { return f.f.Close() }

func deliverySystem(s tvdvb.DeliverySystem) (dvb.DeliverySystem, error) {
	switch s {
	case tvdvb.SysDVBS:
		return dvb.SysDVBS, nil
	case tvdvb.SysDVBS2:
		return dvb.SysDVBS2, nil
	case tvdvb.SysDVBC:
		return dvb.SysDVBCAnnexA, nil
	case tvdvb.SysDVBT:
		return dvb.SysDVBT, nil
	case tvdvb.SysDVBT2:
		return dvb.SysDVBT2, nil
	case tvdvb.SysATSC:
		return dvb.SysATSC, nil
	}
	return 0, fmt.Errorf("%w: %s", tvdvb.ErrUnsupportedSystem, s)
}

func modulation(m string) dvb.Modulation {
	switch strings.ToUpper(m) {
	case "QPSK":
		return dvb.QPSK
	case "8PSK", "PSK/8", "PSK8":
		return dvb.PSK8
	case "QAM16", "QAM/16":
		return dvb.QAM16
	case "QAM32", "QAM/32":
		return dvb.QAM32
	case "QAM64", "QAM/64":
		return dvb.QAM64
	case "QAM128", "QAM/128":
		return dvb.QAM128
	case "QAM256", "QAM/256":
		return dvb.QAM256
	case "VSB8", "8VSB", "VSB/8":
		return dvb.VSB8
	}
	return dvb.QAMAuto
}

func voltage(v tvdvb.Voltage) frontend.Voltage {
	switch v {
	case tvdvb.Voltage13:
		return frontend.Voltage13
	case tvdvb.Voltage18:
		return frontend.Voltage18
	}
	return frontend.VoltageOff
}

var (
	_ tvdvb.Device = (*Device)(nil)
	_ tvdvb.SEC    = (*Device)(nil)
)
