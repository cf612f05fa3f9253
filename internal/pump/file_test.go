// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pump

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"Tagesschau":         "Tagesschau",
		"News/Weather":       "News_Weather",
		"$HOME `rm -rf`":     "_HOME _rm -rf_",
		`C:\tmp`:             "C:_tmp",
		"  ":                 "recording",
		"..":                 "recording",
		"Film: Teil 1 (Neu)": "Film: Teil 1 (Neu)",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeFilename(in), in)
	}
}

func TestLazyFileCounterSuffix(t *testing.T) {
	dir := t.TempDir()
	var created []string
	mk := func() *LazyFile {
		return &LazyFile{Dir: dir, Name: "News/Weather", OnCreate: func(p string) { created = append(created, p) }}
	}

	first := mk()
	assert.Empty(t, first.Path())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing is created before the first write")

	_, err = first.Write([]byte("a"))
	require.NoError(t, err)
	_, err = first.Write([]byte("b"))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := mk()
	_, err = second.Write([]byte("c"))
	require.NoError(t, err)
	require.NoError(t, second.Close())

	assert.Equal(t, []string{
		filepath.Join(dir, "News_Weather.ts"),
		filepath.Join(dir, "News_Weather_1.ts"),
	}, created)
	b, err := os.ReadFile(created[0])
	require.NoError(t, err)
	assert.Equal(t, "ab", string(b))
}

func TestDuration(t *testing.T) {
	var pkts [][]byte
	pkts = append(pkts, plain(0x100, 0))
	for i := 0; i <= 60; i++ {
		pkts = append(pkts, pes(0x200, uint64(i)*90000+45000), plain(0x200, 1))
		pkts = append(pkts, pes(0x201, uint64(i)*90000))
	}
	path := filepath.Join(t.TempDir(), "rec.ts")
	require.NoError(t, os.WriteFile(path, concat(pkts...), 0o600))

	d, err := Duration(path)
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, d)
}

func TestDurationWithoutTimestamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "null.ts")
	require.NoError(t, os.WriteFile(path, concat(plain(0x1FFF, 0xFF), plain(0x1FFF, 0xFF)), 0o600))
	_, err := Duration(path)
	assert.ErrorIs(t, err, ErrNoTimestamps)
}
