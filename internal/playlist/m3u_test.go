// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playlist

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteM3U(t *testing.T) {
	tests := []struct {
		name   string
		items  []Item
		expect []string
	}{
		{
			name: "tv channel",
			items: []Item{{
				Name: "Das Erste HD", ID: "1-16", Number: 1, Group: "Astra 19.2E", URL: "http://tvd:8080/api/v1/channels/1/stream",
			}},
			expect: []string{
				"#EXTM3U",
				`tvg-chno="1"`,
				`tvg-id="1-16"`,
				`group-title="Astra 19.2E"`,
				",Das Erste HD\n",
				"http://tvd:8080/api/v1/channels/1/stream\n",
			},
		},
		{
			name:   "radio and hostile text",
			items:  []Item{{Name: "Bayern\n3", Group: `"quoted"`, Radio: true, Number: 2}},
			expect: []string{`radio="true"`, `group-title="'quoted'"`, ",Bayern 3\n"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var b strings.Builder
			require.NoError(t, WriteM3U(&b, tc.items))
			out := b.String()
			for _, want := range tc.expect {
				assert.Contains(t, out, want)
			}
			assert.Equal(t, len(tc.items), strings.Count(out, "#EXTINF:"))
		})
	}
}
