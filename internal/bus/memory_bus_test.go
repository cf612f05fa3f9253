// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"testing"
	"time"

	"github.com/ManuGH/tvd/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func getCounterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, counter.Write(metric))
	return metric.GetCounter().GetValue()
}

func TestMemoryBusDelivers(t *testing.T) {
	b := NewMemoryBus()
	sub, err := b.Subscribe(context.Background(), TopicActivityState)
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	require.NoError(t, b.Publish(context.Background(), TopicActivityState, "started"))
	require.NoError(t, b.Publish(context.Background(), TopicTransponderState, "ignored"))

	select {
	case msg := <-sub.C():
		assert.Equal(t, "started", msg)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
	assert.Empty(t, sub.C())
}

func TestMemoryBusPublishContextTimeoutIncrementsDropMetrics(t *testing.T) {
	b := NewMemoryBus()
	sub, err := b.Subscribe(context.Background(), "topic")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	for i := 0; i < cap(sub.C()); i++ {
		require.NoError(t, b.Publish(context.Background(), "topic", "msg"))
	}

	initial := getCounterValue(t, metrics.BusDropped("topic", "timeout"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = b.Publish(ctx, "topic", "blocked")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Greater(t, getCounterValue(t, metrics.BusDropped("topic", "timeout")), initial)
}

func TestMemoryBusCloseUnblocksPublisher(t *testing.T) {
	b := NewMemoryBus()
	sub, err := b.Subscribe(context.Background(), "topic")
	require.NoError(t, err)
	for i := 0; i < cap(sub.C()); i++ {
		require.NoError(t, b.Publish(context.Background(), "topic", i))
	}

	done := make(chan error, 1)
	go func() { done <- b.Publish(context.Background(), "topic", "late") }()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publisher still blocked after close")
	}
}

func TestMemoryBusSubscriptionEndsWithContext(t *testing.T) {
	b := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := b.Subscribe(ctx, "topic")
	require.NoError(t, err)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-sub.C():
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryBusPublishRejectsNilContext(t *testing.T) {
	b := NewMemoryBus()
	//nolint:staticcheck
	err := b.Publish(nil, "topic", "msg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context is nil")
}
