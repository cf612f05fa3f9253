// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	xglog "github.com/ManuGH/tvd/internal/log"
	"github.com/ManuGH/tvd/internal/metrics"
)

// MemoryBus is an in-process pub/sub. Delivery blocks on a full subscriber
// until the publish context ends; slow subscribers therefore need their own
// buffering or a short publish timeout.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]*memSub
}

const (
	subscriberBuffer = 64
	dropLogEvery     = 100
)

var dropCount atomic.Uint64

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]*memSub)}
}

func publishDropReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "context_done"
	}
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, msg Message) error {
	if ctx == nil {
		return fmt.Errorf("publish context is nil")
	}
	b.mu.RLock()
	subs := append([]*memSub(nil), b.subs[topic]...)
	b.mu.RUnlock()
	for _, s := range subs {
		if err := s.deliver(ctx, msg); err != nil {
			reason := publishDropReason(err)
			metrics.IncBusDrop(topic, reason)
			if count := dropCount.Add(1); count%dropLogEvery == 0 {
				xglog.L().Warn().
					Str("topic", topic).
					Str("reason", reason).
					Uint64("dropped", count).
					Msg("memory bus failed to publish due to context cancellation")
			}
			return fmt.Errorf("publish topic %q: %w", topic, err)
		}
	}
	return nil
}

// Subscribe registers a subscriber on topic. The subscription is closed when
// ctx ends or Close is called, whichever comes first.
func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (Subscriber, error) {
	s := &memSub{
		b:     b,
		topic: topic,
		ch:    make(chan Message, subscriberBuffer),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], s)
	b.mu.Unlock()

	if ctxDone := ctx.Done(); ctxDone != nil {
		go func() {
			select {
			case <-ctxDone:
				_ = s.Close()
			case <-s.done:
			}
		}()
	}
	return s, nil
}

type memSub struct {
	b     *MemoryBus
	topic string
	ch    chan Message

	once   sync.Once
	done   chan struct{}
	sendMu sync.RWMutex
	closed bool
}

func (s *memSub) C() <-chan Message {
	return s.ch
}

// deliver blocks until msg is queued, the subscriber closes, or ctx ends.
func (s *memSub) deliver(ctx context.Context, msg Message) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		return nil
	}
	select {
	case s.ch <- msg:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *memSub) Close() error {
	s.once.Do(func() {
		close(s.done)

		s.b.mu.Lock()
		lst := s.b.subs[s.topic]
		out := lst[:0]
		for _, c := range lst {
			if c != s {
				out = append(out, c)
			}
		}
		if len(out) == 0 {
			delete(s.b.subs, s.topic)
		} else {
			s.b.subs[s.topic] = out
		}
		s.b.mu.Unlock()

		s.sendMu.Lock()
		s.closed = true
		close(s.ch)
		s.sendMu.Unlock()
	})
	return nil
}

var _ Bus = (*MemoryBus)(nil)
