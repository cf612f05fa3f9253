// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playlist

import (
	"fmt"
	"strings"

	"github.com/ManuGH/tvd/internal/catalog"
)

// FromCatalog lists every channel with a live URL under baseURL. The group is
// the name of the source carrying the channel's first service.
func FromCatalog(c *catalog.Catalog, baseURL string) []Item {
	baseURL = strings.TrimRight(baseURL, "/")
	var items []Item
	for _, ch := range c.Channels() {
		it := Item{
			Name:   ch.Name,
			Number: ch.Number,
			ID:     fmt.Sprintf("tvd-%d", ch.ID),
			URL:    fmt.Sprintf("%s/api/v1/channels/%d/stream", baseURL, ch.ID),
		}
		if len(ch.Services) > 0 {
			key := ch.Services[0]
			if svc, ok := c.Service(key); ok {
				it.Radio = svc.Type == catalog.ServiceRadio
			}
			if tp, ok := c.Transponder(key.Transponder); ok {
				if src, ok := c.Source(tp.Source); ok {
					it.Group = src.Name
				}
			}
		}
		items = append(items, it)
	}
	return items
}
