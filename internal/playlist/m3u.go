// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package playlist renders the channel list as an extended M3U playlist
// pointing at the daemon's live stream endpoints.
package playlist

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

type Item struct {
	Name   string
	ID     string
	Number int
	Group  string
	Radio  bool
	URL    string
}

// WriteM3U writes items in order.
func WriteM3U(w io.Writer, items []Item) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("#EXTM3U\n"); err != nil {
		return err
	}
	for _, it := range items {
		radio := ""
		if it.Radio {
			radio = ` radio="true"`
		}
		fmt.Fprintf(bw, `#EXTINF:-1 tvg-chno="%d" tvg-id="%s" group-title="%s"%s,%s`+"\n",
			it.Number, attr(it.ID), attr(it.Group), radio, oneLine(it.Name))
		bw.WriteString(it.URL + "\n")
	}
	return bw.Flush()
}

func attr(s string) string {
	return strings.ReplaceAll(oneLine(s), `"`, "'")
}

func oneLine(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
