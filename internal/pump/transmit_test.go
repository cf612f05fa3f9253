// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pump

import (
	"bytes"
	"context"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateSenderSplitsAboveBurst(t *testing.T) {
	tx := &sink{}
	bps := readPackets * PacketSize * 10
	s := NewRateSender(context.Background(), tx, bps)

	chunk := bytes.Repeat(plain(0x100, 1), 100)
	require.NoError(t, s.SendPacket(chunk))

	require.Len(t, tx.chunks, 2)
	assert.Len(t, tx.chunks[0], readPackets*PacketSize)
	assert.Equal(t, chunk, concat(tx.chunks...))
}

func TestRateSenderUnlimited(t *testing.T) {
	tx := &sink{}
	s := NewRateSender(context.Background(), tx, 0)
	chunk := bytes.Repeat(plain(0x100, 1), 1000)
	require.NoError(t, s.SendPacket(chunk))
	assert.Len(t, tx.chunks, 1)
}

func TestRateSenderHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewRateSender(ctx, &sink{}, PacketSize)
	require.NoError(t, s.SendPacket(bytes.Repeat(plain(0x100, 1), readPackets)))
	cancel()
	assert.Error(t, s.SendPacket(bytes.Repeat(plain(0x100, 1), readPackets)))
}

func TestWriterSenderFlushes(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriterSender{W: rec}.SendPacket(plain(0x100, 1)))
	assert.True(t, rec.Flushed)
	assert.Equal(t, PacketSize, rec.Body.Len())

	assert.ErrorIs(t, WriterSender{W: shortWriter{}}.SendPacket(plain(0x100, 1)), ErrShortWrite)
}

func TestUDPSender(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	s, err := DialUDP(pc.LocalAddr().String())
	require.NoError(t, err)
	defer s.Close()

	chunk := concat(plain(0x100, 1), plain(0x100, 2))
	require.NoError(t, s.SendPacket(chunk))

	buf := make([]byte, 2048)
	require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, chunk, buf[:n])
}

func TestSenderWriter(t *testing.T) {
	tx := &sink{}
	n, err := SenderWriter{S: tx}.Write(plain(0x100, 1))
	require.NoError(t, err)
	assert.Equal(t, PacketSize, n)
	assert.Equal(t, 1, tx.count())
}
