// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package epg

import (
	"bytes"
	"context"
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/tvd/internal/catalog"
	"github.com/ManuGH/tvd/internal/dvb/dvbtest"
	"github.com/ManuGH/tvd/internal/psi"
)

func TestGenerateXMLTV(t *testing.T) {
	f := newGuideFixture(t)
	_, err := f.cat.AddChannel(context.Background(), "!!!")
	require.NoError(t, err)

	dev := dvbtest.NewDevice()
	dev.Script(psi.PIDEIT, eitStream(psi.EIT{ServiceID: 0x10, Events: []psi.EITEvent{
		event(1, airtime, 105*time.Minute, "Tatort", "Krimi"),
	}}))
	_, err = New(f.cat, Config{Window: 30 * time.Millisecond}).Update(context.Background(), dev, f.tp)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteXMLTV(&buf, Generate(f.cat, time.Time{})))
	assert.True(t, strings.HasPrefix(buf.String(), `<?xml version="1.0" encoding="UTF-8"?>`))

	var got TV
	require.NoError(t, xml.Unmarshal(buf.Bytes(), &got))
	want := TV{
		XMLName:   xml.Name{Local: "tv"},
		Generator: "tvd",
		Channels: []Channel{
			{ID: "das.erste", DisplayName: []string{"Das Erste"}},
			{ID: "tvd.2", DisplayName: []string{"!!!"}},
		},
		Programs: []Programme{{
			Start:   "20250301201500 +0000",
			Stop:    "20250301220000 +0000",
			Channel: "das.erste",
			Title:   Title{Lang: "deu", Value: "Tatort"},
			Desc:    "Krimi",
		}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("xmltv mismatch (-want +got):\n%s", diff)
	}
}

func TestChannelID(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"ZDF HD", "zdf.hd"},
		{"  Das--Erste  ", "das.erste"},
		{"Sport1+", "sport1"},
		{"", "tvd.4"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ChannelID(catalog.Channel{Name: tt.name, Number: 4}), tt.name)
	}
}
