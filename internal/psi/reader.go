// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package psi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrTimeout is returned when a table is not complete before the deadline.
var ErrTimeout = errors.New("psi: table not received before timeout")

const packetSize = 188

// ReadTable reads transport packets from rc until every section of a table
// with tableID (and extension ext, or any when ext < 0) has arrived. It owns
// rc: rc is closed before ReadTable returns, which also unblocks the reader
// goroutine.
func ReadTable(ctx context.Context, rc io.ReadCloser, tableID byte, ext int, timeout time.Duration) (Table, error) {
	col := NewCollector(tableID, ext)
	err := ReadSections(ctx, rc, timeout, col.Add)
	switch {
	case err == nil:
		return col.Table(), nil
	case errors.Is(err, ErrTimeout):
		return Table{}, fmt.Errorf("%w: table 0x%02x after %s", ErrTimeout, tableID, timeout)
	case ctx.Err() != nil:
		return Table{}, err
	}
	return Table{}, fmt.Errorf("psi: read table 0x%02x: %w", tableID, err)
}

// ReadSections hands every valid section read from rc to fn until fn
// reports done, the timeout passes (ErrTimeout) or ctx ends. It owns rc like
// ReadTable.
func ReadSections(ctx context.Context, rc io.ReadCloser, timeout time.Duration, fn func(Section) bool) error {
	pkts := make(chan []byte)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		for {
			pkt := make([]byte, packetSize)
			if _, err := io.ReadFull(rc, pkt); err != nil {
				readErr <- err
				return
			}
			select {
			case pkts <- pkt:
			case <-stop:
				return
			}
		}
	}()
	defer func() {
		close(stop)
		_ = rc.Close()
		<-finished
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	asm := NewAssembler()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return ErrTimeout
		case err := <-readErr:
			return err
		case pkt := <-pkts:
			if pkt[0] != 0x47 {
				continue
			}
			for _, raw := range asm.Push(pkt) {
				s, err := ParseSection(raw)
				if err != nil {
					continue
				}
				if fn(s) {
					return nil
				}
			}
		}
	}
}
