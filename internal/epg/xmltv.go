// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package epg

import (
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/ManuGH/tvd/internal/catalog"
)

type TV struct {
	XMLName   xml.Name    `xml:"tv"`
	Generator string      `xml:"generator-info-name,attr,omitempty"`
	Channels  []Channel   `xml:"channel"`
	Programs  []Programme `xml:"programme"`
}

type Channel struct {
	ID          string   `xml:"id,attr"`
	DisplayName []string `xml:"display-name"`
}

type Programme struct {
	Start   string `xml:"start,attr"`
	Stop    string `xml:"stop,attr"`
	Channel string `xml:"channel,attr"`
	Title   Title  `xml:"title"`
	Desc    string `xml:"desc,omitempty"`
}

type Title struct {
	Lang  string `xml:"lang,attr,omitempty"`
	Value string `xml:",chardata"`
}

// Generate builds the XMLTV document of every channel and its guide entries
// that end after from.
func Generate(c *catalog.Catalog, from time.Time) *TV {
	tv := &TV{Generator: "tvd", Programs: []Programme{}}
	for _, ch := range c.Channels() {
		id := ChannelID(ch)
		tv.Channels = append(tv.Channels, Channel{ID: id, DisplayName: []string{ch.Name}})
		for _, ev := range c.Events(ch.ID, from) {
			tv.Programs = append(tv.Programs, Programme{
				Start:   formatXMLTVTime(ev.Start),
				Stop:    formatXMLTVTime(ev.End),
				Channel: id,
				Title:   Title{Lang: ev.Language, Value: ev.Name},
				Desc:    ev.Description,
			})
		}
	}
	return tv
}

// WriteXMLTV encodes tv with the XML header.
func WriteXMLTV(w io.Writer, tv *TV) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(tv); err != nil {
		return fmt.Errorf("encode xmltv: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// formatXMLTVTime formats time in XMLTV format: YYYYMMDDHHMMSS +ZZZZ
func formatXMLTVTime(t time.Time) string {
	return t.Format("20060102150405 -0700")
}

var (
	idStrip = regexp.MustCompile(`[^a-z0-9À-ÿ\s.\-_]`)
	idSep   = regexp.MustCompile(`[\s.\-_]+`)
)

// ChannelID derives a stable XMLTV id from the channel name, falling back to
// the channel number when the name has no usable characters.
func ChannelID(ch catalog.Channel) string {
	id := idSep.ReplaceAllString(idStrip.ReplaceAllString(strings.ToLower(ch.Name), ""), ".")
	id = strings.Trim(id, ".")
	if id == "" {
		return fmt.Sprintf("tvd.%d", ch.Number)
	}
	return id
}
