// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pump

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// WriterSender sends chunks to an io.Writer, flushing after each chunk when
// the writer supports it (HTTP responses).
type WriterSender struct {
	W io.Writer
}

func (s WriterSender) SendPacket(chunk []byte) error {
	n, err := s.W.Write(chunk)
	if err != nil {
		return err
	}
	if n < len(chunk) {
		return fmt.Errorf("%w: %d of %d bytes", ErrShortWrite, n, len(chunk))
	}
	if f, ok := s.W.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// UDPSender sends each chunk as one datagram. A datagram that cannot be
// written within the deadline is dropped.
type UDPSender struct {
	Conn     net.Conn
	Deadline time.Duration
}

func DialUDP(addr string) (*UDPSender, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("pump: dial %s: %w", addr, err)
	}
	return &UDPSender{Conn: conn, Deadline: 10 * time.Millisecond}, nil
}

func (s *UDPSender) SendPacket(chunk []byte) error {
	if s.Deadline > 0 {
		_ = s.Conn.SetWriteDeadline(time.Now().Add(s.Deadline))
	}
	if _, err := s.Conn.Write(chunk); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil
		}
		return err
	}
	return nil
}

func (s *UDPSender) Close() error { return s.Conn.Close() }

// RateSender caps the byte rate of the wrapped sender.
type RateSender struct {
	ctx     context.Context
	next    Sender
	limiter *rate.Limiter
}

// NewRateSender limits next to bps bytes per second. A non-positive bps
// disables limiting.
func NewRateSender(ctx context.Context, next Sender, bps int) *RateSender {
	lim := rate.NewLimiter(rate.Inf, 0)
	if bps > 0 {
		burst := bps / 10
		if burst < readPackets*PacketSize {
			burst = readPackets * PacketSize
		}
		lim = rate.NewLimiter(rate.Limit(bps), burst)
	}
	return &RateSender{ctx: ctx, next: next, limiter: lim}
}

func (s *RateSender) SendPacket(chunk []byte) error {
	for len(chunk) > 0 {
		n := len(chunk)
		if b := s.limiter.Burst(); s.limiter.Limit() != rate.Inf && n > b {
			n = b / PacketSize * PacketSize
		}
		if err := s.limiter.WaitN(s.ctx, n); err != nil {
			return err
		}
		if err := s.next.SendPacket(chunk[:n]); err != nil {
			return err
		}
		chunk = chunk[n:]
	}
	return nil
}

// SenderWriter adapts a Sender to io.Writer so a live pump can feed a
// transmitter.
type SenderWriter struct {
	S Sender
}

func (w SenderWriter) Write(p []byte) (int, error) {
	if err := w.S.SendPacket(p); err != nil {
		return 0, err
	}
	return len(p), nil
}
