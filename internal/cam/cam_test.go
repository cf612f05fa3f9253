// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cam

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/tvd/internal/resilience"
)

type stubClient struct {
	name string
	err  error

	mu   sync.Mutex
	ecms int
}

func (c *stubClient) Name() string { return c.name }

func (c *stubClient) HandleECM([]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ecms++
	return c.err
}

func (c *stubClient) Decrypt(pkt []byte) { pkt[3] &^= 0xC0 }

func (c *stubClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ecms
}

func TestRouting(t *testing.T) {
	r := NewRegistry(Config{})
	a := &stubClient{name: "a"}
	b := &stubClient{name: "b"}
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))
	require.ErrorIs(t, r.Register(&stubClient{name: "a"}), ErrExists)

	assert.False(t, r.HasCAID(0x0B00))

	require.NoError(t, r.NotifyCard("b", 0x0B00))
	require.NoError(t, r.NotifyCard("a", 0x0B00))
	require.NoError(t, r.NotifyCard("a", 0x1702))
	require.ErrorIs(t, r.NotifyCard("nobody", 0x0100), ErrUnknownClient)

	d, ok := r.ClientFor(0x0B00)
	require.True(t, ok)
	require.NoError(t, d.HandleECM(make([]byte, 188)))
	assert.Equal(t, 1, b.count(), "first announcer wins")
	assert.Zero(t, a.count())

	assert.Equal(t, map[string][]uint16{"a": {0x0B00, 0x1702}, "b": {0x0B00}}, r.CAIDs())

	r.Unregister("b")
	d, ok = r.ClientFor(0x0B00)
	require.True(t, ok)
	require.NoError(t, d.HandleECM(make([]byte, 188)))
	assert.Equal(t, 1, a.count())
}

func TestDecryptInPlace(t *testing.T) {
	r := NewRegistry(Config{})
	require.NoError(t, r.Register(&stubClient{name: "a"}))
	require.NoError(t, r.NotifyCard("a", 0x0100))
	d, ok := r.ClientFor(0x0100)
	require.True(t, ok)

	pkt := make([]byte, 188)
	pkt[0], pkt[3] = 0x47, 0xD0
	d.Decrypt(pkt)
	assert.Equal(t, byte(0x10), pkt[3])
}

func TestBreakerIsolatesFailingClient(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 2, ResetTimeout: time.Hour})
	bad := &stubClient{name: "bad", err: errors.New("card gone")}
	good := &stubClient{name: "good"}
	require.NoError(t, r.Register(bad))
	require.NoError(t, r.Register(good))
	require.NoError(t, r.NotifyCard("bad", 0x0500))
	require.NoError(t, r.NotifyCard("good", 0x0500))

	d, ok := r.ClientFor(0x0500)
	require.True(t, ok)
	assert.Error(t, d.HandleECM(nil))
	assert.Error(t, d.HandleECM(nil))
	assert.ErrorIs(t, d.HandleECM(nil), resilience.ErrCircuitOpen)
	assert.Equal(t, 2, bad.count())

	d, ok = r.ClientFor(0x0500)
	require.True(t, ok)
	require.NoError(t, d.HandleECM(nil))
	assert.Equal(t, 1, good.count())
}
