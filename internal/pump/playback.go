// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pump

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Comcast/gots/v2/packet"
	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/tvd/internal/log"
	"github.com/ManuGH/tvd/internal/metrics"
	"github.com/ManuGH/tvd/internal/psi"
)

const (
	DefaultWindow       = 256
	DefaultChunkPackets = 7

	tsMask = 1<<33 - 1
)

var ErrLostSync = errors.New("pump: lost transport stream sync")

// Sender transmits one chunk of packets. Implementations must not block for
// long; a chunk that cannot be sent may be dropped.
type Sender interface {
	SendPacket(chunk []byte) error
}

type PlaybackConfig struct {
	// Window is the per-PID look-ahead in packets.
	Window int
	// ChunkPackets is the number of packets paced and sent together.
	ChunkPackets int
	Clock        Clock
	Logger       zerolog.Logger
}

// Playback replays a stored transport stream. Each PID's timestamps are
// taken relative to the first timestamp seen on that PID; packets are
// emitted in relative timestamp order and each chunk is held back until
// its first packet is due.
type Playback struct {
	r   io.Reader
	tx  Sender
	cfg PlaybackConfig

	mu      sync.Mutex
	cond    *sync.Cond
	paused  bool
	pauseCh chan struct{}

	anchor time.Time
}

func NewPlayback(r io.Reader, tx Sender, cfg PlaybackConfig) *Playback {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.ChunkPackets <= 0 {
		cfg.ChunkPackets = DefaultChunkPackets
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	p := &Playback{r: r, tx: tx, cfg: cfg, pauseCh: make(chan struct{}, 1)}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Pause holds output until Resume. A pending pacing wait is interrupted.
func (p *Playback) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
	select {
	case p.pauseCh <- struct{}{}:
	default:
	}
}

func (p *Playback) Resume() {
	p.mu.Lock()
	p.paused = false
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *Playback) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Run plays the stream to the end, or until ctx ends.
func (p *Playback) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	m := newMerger(p.cfg.Window)
	var (
		chunk   []byte
		first   uint64
		n       int
		eof     bool
		sent    int
		scratch = make([]byte, PacketSize)
	)
	for {
		// Reading stops while paused; the window bounds what is buffered.
		if err := p.waitResumed(ctx); err != nil {
			return err
		}
		for !eof && !m.full() {
			if _, err := io.ReadFull(p.r, scratch); err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					eof = true
					break
				}
				return fmt.Errorf("pump: read recording: %w", err)
			}
			if scratch[0] != 0x47 {
				return ErrLostSync
			}
			m.push(scratch)
		}

		q, ok := m.pop()
		if !ok {
			break
		}
		if n == 0 {
			first = q.rel
		}
		chunk = append(chunk, q.pkt...)
		n++
		if n < p.cfg.ChunkPackets {
			continue
		}
		if err := p.emit(ctx, first, chunk); err != nil {
			return err
		}
		sent += n
		chunk, n = nil, 0
	}
	if n > 0 {
		if err := p.emit(ctx, first, chunk); err != nil {
			return err
		}
		sent += n
	}
	p.cfg.Logger.Info().Str(xglog.FieldEvent, "playback.done").Int("packets", sent).Msg("playback finished")
	return nil
}

// emit waits until anchor+rel and sends chunk.
func (p *Playback) emit(ctx context.Context, rel uint64, chunk []byte) error {
	if err := p.waitResumed(ctx); err != nil {
		return err
	}
	clock := p.cfg.Clock
	if p.anchor.IsZero() {
		p.anchor = clock.Now()
	}
	for {
		d := p.anchor.Add(ticks(rel)).Sub(clock.Now())
		if d <= 0 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.pauseCh:
			if err := p.waitResumed(ctx); err != nil {
				return err
			}
		case <-clock.After(d):
		}
	}
	if err := p.tx.SendPacket(chunk); err != nil {
		return fmt.Errorf("pump: send: %w", err)
	}
	metrics.AddPumpBytes("playback", len(chunk))
	return nil
}

// waitResumed blocks while paused and shifts the anchor by the time spent
// paused.
func (p *Playback) waitResumed(ctx context.Context) error {
	p.mu.Lock()
	if !p.paused {
		p.mu.Unlock()
		return ctx.Err()
	}
	start := p.cfg.Clock.Now()
	for p.paused && ctx.Err() == nil {
		p.cond.Wait()
	}
	p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.anchor.IsZero() {
		p.anchor = p.anchor.Add(p.cfg.Clock.Now().Sub(start))
	}
	return nil
}

type queued struct {
	seq uint64
	rel uint64
	pkt []byte
}

type pidQueue struct {
	base    uint64
	hasBase bool
	last    uint64
	q       []queued
}

// relative returns ts relative to the PID's first timestamp, modulo the
// 33-bit wrap. Timestamps before the baseline map to zero.
func (s *pidQueue) relative(ts uint64) uint64 {
	if !s.hasBase {
		s.base, s.hasBase = ts, true
	}
	d := (ts - s.base) & tsMask
	if d > tsMask/2 {
		d = 0
	}
	return d
}

// merger is a k-way merge over per-PID queues ordered by relative
// timestamp, ties broken by read order. heads holds every non-empty queue.
type merger struct {
	window int
	seq    uint64
	pids   map[uint16]*pidQueue
	heads  headHeap
}

func newMerger(window int) *merger {
	return &merger{window: window, pids: make(map[uint16]*pidQueue)}
}

func (m *merger) push(b []byte) {
	var pkt packet.Packet
	copy(pkt[:], b)
	pid := uint16(pkt.PID())

	s, ok := m.pids[pid]
	if !ok {
		s = &pidQueue{}
		m.pids[pid] = s
	}
	if ts, ok := psi.Timestamp(b); ok && psi.TimestampPID(pid) {
		s.last = s.relative(ts)
	}
	m.seq++
	s.q = append(s.q, queued{seq: m.seq, rel: s.last, pkt: append([]byte(nil), b...)})
	if len(s.q) == 1 {
		heap.Push(&m.heads, s)
	}
}

// full reports whether any PID has filled its look-ahead window.
func (m *merger) full() bool {
	for _, s := range m.heads {
		if len(s.q) >= m.window {
			return true
		}
	}
	return false
}

func (m *merger) pop() (queued, bool) {
	if len(m.heads) == 0 {
		return queued{}, false
	}
	s := m.heads[0]
	q := s.q[0]
	s.q[0] = queued{}
	s.q = s.q[1:]
	if len(s.q) == 0 {
		heap.Pop(&m.heads)
	} else {
		heap.Fix(&m.heads, 0)
	}
	return q, true
}

// headHeap orders non-empty PID queues by their head packet.
type headHeap []*pidQueue

func (h headHeap) Len() int { return len(h) }

func (h headHeap) Less(i, j int) bool {
	a, b := h[i].q[0], h[j].q[0]
	return a.rel < b.rel || (a.rel == b.rel && a.seq < b.seq)
}

func (h headHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *headHeap) Push(x any) { *h = append(*h, x.(*pidQueue)) }

func (h *headHeap) Pop() any {
	old := *h
	s := old[len(old)-1]
	old[len(old)-1] = nil
	*h = old[:len(old)-1]
	return s
}
