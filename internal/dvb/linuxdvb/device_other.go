// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build !linux

package linuxdvb

import (
	"errors"

	tvdvb "github.com/ManuGH/tvd/internal/dvb"
)

var errUnsupportedOS = errors.New("linuxdvb: DVB devices are only available on linux")

// Device is a stub on non-linux platforms; every call fails.
type Device struct{}

// New returns a device that cannot be opened on this platform.
func New(adapter, index int) *Device { return &Device{} }

func (d *Device) Open() error                             { return errUnsupportedOS }
func (d *Device) Close() error                            { return nil }
func (d *Device) Tune(tvdvb.TuneParams) error             { return errUnsupportedOS }
func (d *Device) ReadStatus() (tvdvb.Status, error)       { return tvdvb.Status{}, errUnsupportedOS }
func (d *Device) OpenFilter(uint16) (tvdvb.Filter, error) { return nil, errUnsupportedOS }

var _ tvdvb.Device = (*Device)(nil)
